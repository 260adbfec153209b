package protocol

const (
	ToolNameListBuckets       = "s3mcp.list_buckets"
	ToolNameListObjects       = "s3mcp.list_objects"
	ToolNameGetObjectMetadata = "s3mcp.get_object_metadata"
	ToolNameDownloadObject    = "s3mcp.download_object"
	ToolNameReadObject        = "s3mcp.read_object"
	ToolNamePresignObject     = "s3mcp.presign_object"
	ToolNameCreateBucket      = "s3mcp.create_bucket"
	ToolNameUploadObject      = "s3mcp.upload_object"
	ToolNameStats             = "s3mcp.stats"
)

const (
	ErrorKindConnectivity        = "ConnectivityError"
	ErrorKindNotFound            = "NotFoundError"
	ErrorKindRangeNotSatisfiable = "RangeNotSatisfiableError"
	ErrorKindIntegrity           = "IntegrityError"
	ErrorKindDestination         = "DestinationError"
	ErrorKindSchemaValidation    = "SchemaValidationError"
	ErrorKindTimeout             = "TimeoutError"
	ErrorKindCancelled           = "CancelledError"
	ErrorKindOverload            = "OverloadError"
)

const Version = "1.0.0"

const (
	DefaultListenAddr = "127.0.0.1:8002"
	DefaultMCPPath    = "/mcp"

	MCPSessionHeader = "MCP-Session-Id"
)
