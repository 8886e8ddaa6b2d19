package consts

const (
	// DefaultDBName is the default database name.
	DefaultDBName = "docinsights"

	// TableNameMessages is the default table/collection name for transcript messages.
	TableNameMessages = "transcripts"

	// Column names
	ColSessionID = "session_id"
	ColSeq       = "seq"
	ColRole      = "role"
	ColContent   = "content"
	ColCitations = "citations"
	ColCreatedAt = "created_at"

	// Neo4j specific
	LabelSession  = "Session"
	LabelMessage  = "Message"
	LabelChunk    = "Chunk"
	RelHasMessage = "HAS_MESSAGE"
	RelCites      = "CITES"

	// Redis key prefix
	KeyPrefix = "transcript:"
)
