package models

// Question is the entity referenced by QUESTION-role entity set members.
// Its own CRUD lives outside the core scope of this subsystem; only the
// fields the scheduling/template/QA paths need are modeled here.
type Question struct {
	ID             int64
	CompanyID      string
	Text           string
	QuestionTypeID int64
	UseAgentQA     bool
	Deleted        bool
}
