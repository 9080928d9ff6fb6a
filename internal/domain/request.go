package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// RetrieveRequest is the input of one hybrid retrieval call.
type RetrieveRequest struct {
	Query      string `json:"query" validate:"notblank"`
	DenseTopK  int    `json:"dense_top_k" validate:"gt=0"`
	SparseTopK int    `json:"sparse_top_k" validate:"gt=0"`
	TopK       int    `json:"top_k" validate:"gt=0"`
	TopN       int    `json:"top_n" validate:"gt=0,ltefield=TopK"`
}

// RetrieveResponse holds the collected output of a call as parallel arrays.
type RetrieveResponse struct {
	BookIDs []string  `json:"book_ids"`
	Scores  []float64 `json:"scores"`
}

func (r RetrieveResponse) Len() int {
	return len(r.BookIDs)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})

		_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
	})
	return validate
}

// Validate checks the request and returns an error wrapping ErrInvalidArgument
// that names every offending field.
func (r RetrieveRequest) Validate() error {
	return validateStruct(r)
}

// Validate checks that a catalogue record carries an id and a title.
func (b Book) Validate() error {
	return validateStruct(b)
}

func validateStruct(v any) error {
	err := requestValidator().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidArgument, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank":
		return fmt.Sprintf("%s must not be empty", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "ltefield":
		return fmt.Sprintf("%s must not exceed top_k, got %v", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
