package http

import (
	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/export"
	"github.com/gear6io/gharp/server/materializer"
	"github.com/gear6io/gharp/server/metadata"
	"github.com/gear6io/gharp/server/query"
	"github.com/gear6io/gharp/server/search"
	"github.com/gofiber/fiber/v2"
)

// HTTP server error codes
var (
	ErrBadRequest     = errors.MustNewCode("http.bad_request")
	ErrShutdownFailed = errors.MustNewCode("http.shutdown_failed")
)

var badRequestCodes = []errors.Code{
	ErrBadRequest,
	search.ErrInvalidRequest,
	search.ErrNoFiles,
	query.ErrInvalidMode,
	query.ErrInvalidPattern,
	query.ErrEmptyTerm,
	materializer.ErrUnsupportedFormat,
	export.ErrUnsupportedFormat,
	export.ErrUnsupportedCompression,
}

var notFoundCodes = []errors.Code{
	search.ErrUnknownFiles,
	search.ErrRunNotFound,
	search.ErrFileNotProcessed,
	materializer.ErrSourceMissing,
	metadata.ErrDirectoryUnreadable,
}

// statusFor maps an error to the response status by its code
func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	for _, code := range badRequestCodes {
		if errors.HasCode(err, code) {
			return fiber.StatusBadRequest
		}
	}
	for _, code := range notFoundCodes {
		if errors.HasCode(err, code) {
			return fiber.StatusNotFound
		}
	}
	if errors.HasCode(err, search.ErrRunNotRunning) || errors.HasCode(err, materializer.ErrFileExists) {
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	} else {
		s.logger.Debug().Err(err).Str("path", c.Path()).Int("status", status).Msg("Request rejected")
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  errors.GetCode(err),
	})
}
