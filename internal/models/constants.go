package models

const (
	DefaultTextColumn = "text"
	DefaultSessionID  = "default"
	SessionHeader     = "X-Session-ID"

	MetaSource  = "source"
	MetaChunkID = "chunk_id"

	HistoryMemoryKey = "chat_history"
	QuestionKey      = "question"
	AnswerKey        = "text"
	SourceDocsKey    = "source_documents"
)

const Greeting = "Hello, this is the document question-answering server. Upload a CSV to /process and ask questions at /ask_question."
