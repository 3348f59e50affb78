package middleware

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/gin-gonic/gin"
	awspkg "github.com/lakhoreJanvi/product-importer-project/pkg/aws"
)

// MetricsMiddleware creates a Gin middleware that tracks HTTP metrics
func MetricsMiddleware(metricsClient *awspkg.MetricsClient, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsClient == nil || !metricsClient.IsEnabled() {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request.Method
		// FullPath keeps ids out of the dimension set
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()
		bytesIn := c.Request.ContentLength

		dimensions := map[string]string{
			"Service": serviceName,
			"Method":  method,
			"Path":    path,
			"Status":  statusCodeToRange(statusCode),
		}

		// Record metrics asynchronously so the response is not held up
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = metricsClient.RecordCount(ctx, awspkg.MetricHTTPRequests, dimensions)
			_ = metricsClient.RecordLatency(ctx, awspkg.MetricHTTPLatency, duration, dimensions)

			if bytesIn > 0 {
				_ = metricsClient.PutMetric(ctx, awspkg.MetricHTTPBytesIn, float64(bytesIn), types.StandardUnitBytes, dimensions)
			}
			if statusCode >= 400 && statusCode < 500 {
				_ = metricsClient.RecordCount(ctx, awspkg.MetricHTTP4xx, dimensions)
			} else if statusCode >= 500 {
				_ = metricsClient.RecordCount(ctx, awspkg.MetricHTTP5xx, dimensions)
			}
		}()
	}
}

// statusCodeToRange converts status code to a range string (2xx, 3xx, 4xx, 5xx)
func statusCodeToRange(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
