package call

import (
	stderrors "errors"

	"github.com/wippyai/nativeguard/errors"
	"github.com/wippyai/nativeguard/native"
)

// Classifier maps a failed native call to an error kind. Only KindCaller,
// KindTransient and KindFatal drive policy; any other kind is surfaced
// unchanged and treated as permanent.
type Classifier interface {
	Classify(err error) errors.Kind
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(error) errors.Kind

func (f ClassifierFunc) Classify(err error) errors.Kind { return f(err) }

// Chain tries each classifier in order and returns the first non-empty
// kind. The default classifier is consulted last.
func Chain(classifiers ...Classifier) Classifier {
	return ClassifierFunc(func(err error) errors.Kind {
		for _, c := range classifiers {
			if k := c.Classify(err); k != "" {
				return k
			}
		}
		return Classify(err)
	})
}

// DefaultClassifier is the classifier used when none is configured.
var DefaultClassifier Classifier = ClassifierFunc(Classify)

// Classify applies the default rules:
//   - errors already carrying a kind keep it, with not-found and
//     invalid-input mapped to caller;
//   - an unavailable library is fatal;
//   - native status codes map by meaning, unknown codes are transient;
//   - anything else, including timeouts, is transient.
func Classify(err error) errors.Kind {
	if err == nil {
		return ""
	}

	var e *errors.Error
	if stderrors.As(err, &e) {
		switch e.Kind {
		case errors.KindNotFound, errors.KindInvalidInput:
			return errors.KindCaller
		case "":
		default:
			return e.Kind
		}
	}

	if stderrors.Is(err, native.ErrUnavailable) {
		return errors.KindFatal
	}

	if code, ok := native.CodeOf(err); ok {
		return classifyCode(code)
	}

	return errors.KindTransient
}

func classifyCode(code native.Code) errors.Kind {
	switch code {
	case native.CodeInvalidArgument, native.CodeNotFound, native.CodeUnsupported:
		return errors.KindCaller
	case native.CodeBusy, native.CodeTimeout, native.CodeAgain:
		return errors.KindTransient
	case native.CodeUnavailable, native.CodeCrashed:
		return errors.KindFatal
	default:
		return errors.KindTransient
	}
}
