package normalize

import (
	"errors"
	"fmt"

	"github.com/shinyes/yep_model/pkg/patch"
)

var ErrTranslation = errors.New("normalize: untranslatable change")

// TranslationError reports an event, delta or value whose shape the
// normalizer does not recognize.
type TranslationError struct {
	Path  patch.Path
	Shape string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("%v: %s at %s", ErrTranslation, e.Shape, e.Path)
}

func (e *TranslationError) Unwrap() error { return ErrTranslation }

func unrecognized(at patch.Path, format string, args ...any) error {
	return &TranslationError{Path: at, Shape: fmt.Sprintf(format, args...)}
}
