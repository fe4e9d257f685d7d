package aiprovider

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matrixqa/engine/pkg/models"
)

// answerMethod is the fully qualified gRPC method the provider exposes.
// Request and response are generic google.protobuf.Struct messages rather
// than a codegen'd service client, so the engine never needs a .proto build
// step for a provider contract that is, by spec, "only the request/response
// contract" — any JSON-shaped provider can speak this wire format.
const answerMethod = "/matrixqa.aiprovider.v1.AIProvider/Answer"

// GRPCClient implements Client by calling the external AI service over
// gRPC, mirroring the teacher's request/response-only LLM client.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// NewGRPCClient dials addr using insecure (plaintext) transport — the AI
// service is expected to run as a sidecar or on a trusted network segment.
func NewGRPCClient(addr string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create ai provider client for %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn}, nil
}

// Answer implements Client.
func (c *GRPCClient) Answer(ctx context.Context, req AnswerRequest) (models.AIAnswerSet, error) {
	reqStruct, err := structpb.NewStruct(toWireRequest(req))
	if err != nil {
		return models.AIAnswerSet{}, fmt.Errorf("%w: encode request: %v", ErrPermanent, err)
	}

	respStruct := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, answerMethod, reqStruct, respStruct); err != nil {
		if st, ok := status.FromError(err); ok {
			switch st.Code() {
			case codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied:
				return models.AIAnswerSet{}, fmt.Errorf("%w: %v", ErrPermanent, err)
			}
		}
		return models.AIAnswerSet{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	return fromWireResponse(respStruct.AsMap())
}

// Close releases the gRPC connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func toWireRequest(req AnswerRequest) map[string]any {
	docs := make([]any, 0, len(req.Documents))
	for _, d := range req.Documents {
		docs = append(docs, map[string]any{
			"document_id": float64(d.DocumentID),
			"content":     d.Content,
		})
	}
	return map[string]any{
		"question_text":    req.QuestionText,
		"question_type_id": float64(req.QuestionTypeID),
		"documents":        docs,
	}
}

func fromWireResponse(wire map[string]any) (models.AIAnswerSet, error) {
	rawAnswers, ok := wire["answers"].([]any)
	if !ok {
		return models.AIAnswerSet{}, fmt.Errorf("%w: response missing answers array", ErrPermanent)
	}

	answers := make([]models.AIAnswer, 0, len(rawAnswers))
	for _, raw := range rawAnswers {
		m, ok := raw.(map[string]any)
		if !ok {
			return models.AIAnswerSet{}, fmt.Errorf("%w: malformed answer entry", ErrPermanent)
		}

		data := models.AnswerData{
			Variant:           models.AnswerVariant(stringField(m, "variant")),
			Text:              stringField(m, "text"),
			DateISO8601:       stringField(m, "date_iso8601"),
			CurrencyAmount:    floatField(m, "currency_amount"),
			CurrencyCode:      stringField(m, "currency_code"),
			SelectOptionID:    int64(floatField(m, "select_option_id")),
			SelectOptionValue: stringField(m, "select_option_value"),
		}

		var citations []models.AICitation
		if rawCitations, ok := m["citations"].([]any); ok {
			for _, rc := range rawCitations {
				cm, ok := rc.(map[string]any)
				if !ok {
					continue
				}
				citations = append(citations, models.AICitation{
					DocumentID: int64(floatField(cm, "document_id")),
					QuoteText:  stringField(cm, "quote_text"),
				})
			}
		}

		answers = append(answers, models.AIAnswer{Data: data, Citations: citations})
	}

	return models.AIAnswerSet{Answers: answers}, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func floatField(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}
