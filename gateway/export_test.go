package gateway

var (
	FetchSchemaForTest = fetchSchema
	LoadSchemaForTest  = loadSchema
	BuildEngineForTest = buildEngine
)
