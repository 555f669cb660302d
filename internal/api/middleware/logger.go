package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RequestLogger returns a gin middleware logging one line per request
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		event := log.Info()
		if statusCode >= 500 {
			event = log.Error()
		} else if statusCode >= 400 {
			event = log.Warn()
		}
		event.
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("request_id", c.GetHeader("X-Request-ID")).
			Msg("Request processed")
	}
}

// TimerSink receives per-request timing and outcome measurements
type TimerSink interface {
	RecordTimer(name string, durationMs int64)
	RecordSuccess(name string)
	RecordError(name string)
}

// Metrics returns a gin middleware feeding request timings into the sink
func Metrics(sink TimerSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		sink.RecordTimer("http "+c.Request.Method+" "+route, time.Since(start).Milliseconds())
		if c.Writer.Status() >= 500 {
			sink.RecordError("http_requests")
		} else {
			sink.RecordSuccess("http_requests")
		}
	}
}
