package pluginapi

import (
	"errors"
	"fmt"
)

// Kind задает категорию ошибки. Значения стабильны: новые категории
// только добавляются в конец.
type Kind int

const (
	KindLoad Kind = iota + 1
	KindExecution
	KindCommand
	KindConfiguration
	KindResource
	KindCustom
)

var kindNames = map[Kind]string{
	KindLoad:          "load",
	KindExecution:     "execution",
	KindCommand:       "command",
	KindConfiguration: "configuration",
	KindResource:      "resource",
	KindCustom:        "custom",
}

// String возвращает текстовое имя категории.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText кодирует категорию именем, чтобы она переживала JSON-границу.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown error kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText разбирает имя категории.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", string(text))
}

// Retryable сообщает, остается ли handle пригодным после ошибки этой категории.
func (k Kind) Retryable() bool {
	switch k {
	case KindExecution, KindCommand, KindResource:
		return true
	default:
		return false
	}
}

// Error описывает ошибку, пересекающую границу host/plugin.
// Subject хранит контекст, команду, ключ конфигурации, тип ресурса
// или произвольную категорию, в зависимости от Kind.
type Error struct {
	Kind    Kind   `json:"kind"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindLoad:
		return fmt.Sprintf("Load error in %s: %s", e.Subject, e.Message)
	case KindExecution:
		return fmt.Sprintf("Execution error in %s: %s", e.Subject, e.Message)
	case KindCommand:
		return fmt.Sprintf("Command '%s' error: %s", e.Subject, e.Message)
	case KindConfiguration:
		return fmt.Sprintf("Configuration error for '%s': %s", e.Subject, e.Message)
	case KindResource:
		return fmt.Sprintf("%s resource error: %s", e.Subject, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Subject, e.Message)
	}
}

// Is сопоставляет ошибку с sentinel-значением той же категории.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Subject == "" && t.Message == "" && t.Kind == e.Kind
}

// Sentinel-значения для errors.Is по категории.
var (
	ErrLoad          = &Error{Kind: KindLoad}
	ErrExecution     = &Error{Kind: KindExecution}
	ErrCommand       = &Error{Kind: KindCommand}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrResource      = &Error{Kind: KindResource}
	ErrCustom        = &Error{Kind: KindCustom}
)

func LoadError(context, message string) *Error {
	return &Error{Kind: KindLoad, Subject: context, Message: message}
}

func ExecutionError(context, message string) *Error {
	return &Error{Kind: KindExecution, Subject: context, Message: message}
}

func CommandError(command, message string) *Error {
	return &Error{Kind: KindCommand, Subject: command, Message: message}
}

func ConfigurationError(key, message string) *Error {
	return &Error{Kind: KindConfiguration, Subject: key, Message: message}
}

func ResourceError(resourceType, message string) *Error {
	return &Error{Kind: KindResource, Subject: resourceType, Message: message}
}

// CustomError покрывает специфичные для плагина случаи вне закрытого набора.
func CustomError(errorType, message string) *Error {
	return &Error{Kind: KindCustom, Subject: errorType, Message: message}
}

// Translate переводит внутреннюю ошибку плагина в таксономию на первой
// границе. Ошибка таксономии в цепочке возвращается как есть.
func Translate(kind Kind, subject string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: kind, Subject: subject, Message: err.Error()}
}

// KindOf возвращает категорию ошибки или 0, если err не из таксономии.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
