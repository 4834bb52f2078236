package core

type ctxKey string

const (
	CtxKeyUsername  ctxKey = ctxKey("username")
	CtxKeyRole      ctxKey = ctxKey("role")
	CtxKeyProjectID ctxKey = ctxKey("projectId")
)
