package proxy

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/hub-gateway/internal/codec"
	"github.com/nulpointcorp/hub-gateway/pkg/apierr"
)

// writeSurfaceError renders a SurfaceError in the client's own dialect
// whenever its cause is a decoded *codec.InternalError, falling back to the
// OpenAI-shaped envelope apierr already knows how to write for anything
// else (a conversion failure, a candidate-build rejection, or a classifier
// class that never reached an upstream body).
func writeSurfaceError(ctx *fasthttp.RequestCtx, clientFormat codec.ApiFormat, serr *SurfaceError) {
	var ie *codec.InternalError
	if errors.As(serr.Cause, &ie) {
		if norm, err := codec.Lookup(clientFormat); err == nil {
			envelope := norm.ErrorFromInternal(ie)
			ctx.SetStatusCode(serr.Status)
			ctx.SetContentType("application/json")
			body, merr := json.Marshal(map[string]any{"error": envelope})
			if merr == nil {
				ctx.SetBody(body)
				return
			}
		}
	}

	if serr.Status == fasthttp.StatusTooManyRequests {
		apierr.WriteRateLimit(ctx)
		return
	}
	apierr.Write(ctx, serr.Status, serr.Error(), statusToErrType(serr.Status), apierr.CodeProviderError)
}

func apierrWriteGeneric(ctx *fasthttp.RequestCtx, status int, message string) {
	apierr.Write(ctx, status, message, statusToErrType(status), apierr.CodeInvalidRequest)
}

func statusToErrType(status int) string {
	switch {
	case status == fasthttp.StatusUnauthorized:
		return apierr.TypeAuthenticationErr
	case status == fasthttp.StatusTooManyRequests:
		return apierr.TypeRateLimitError
	case status >= 400 && status < 500:
		return apierr.TypeInvalidRequest
	default:
		return apierr.TypeServerError
	}
}
