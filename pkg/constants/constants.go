package constants

type contextKey string

const (
	TxKey        contextKey = "tx"
	PoolKey      contextKey = "pool"
	LoggerKey    contextKey = "logger"
	ActorKey     contextKey = "actor"
	RequestIDKey contextKey = "request_id"
	RequestStart contextKey = "request_start"
)
