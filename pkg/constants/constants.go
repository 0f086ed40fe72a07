package constants

import (
	"github.com/go-playground/validator/v10"
)

type ContextKey string

const (
	TxKey        ContextKey = "tx"
	PoolKey      ContextKey = "pool"
	LoggerKey    ContextKey = "logger"
	RequestStart ContextKey = "requestStart"
	RequestIDKey ContextKey = "requestID"
	UserKey      ContextKey = "user"
	AppKey       ContextKey = "app"
	LocalizerKey ContextKey = "localizer"
	LocaleKey    ContextKey = "locale"
)

var Validate = validator.New(validator.WithRequiredStructEnabled())
