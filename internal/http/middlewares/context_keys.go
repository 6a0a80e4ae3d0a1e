package middlewares

// gin.Context keys shared with handlers.
const (
	CtxRequestID = "request_id"
	CtxJobID     = "job_id"

	ctxUserIDKey = "auth.userID"
	ctxEmailKey  = "auth.email"
	ctxRoleKey   = "auth.role"
)
