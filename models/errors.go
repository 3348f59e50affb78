package models

import "errors"

var (
	ErrJobNotFound       = errors.New("import job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrIncompleteUpload  = errors.New("upload is incomplete")
	ErrUploadNotFound    = errors.New("upload not found")
	ErrWebhookNotFound   = errors.New("webhook not found")
)
