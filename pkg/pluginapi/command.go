package pluginapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Command структурированная инструкция для Execute: действие и
// произвольное значение параметров (map, list, scalar или null).
type Command struct {
	Action     string `json:"action"`
	Parameters any    `json:"parameters"`
}

// NewCommand создает команду с параметрами.
func NewCommand(action string, parameters any) Command {
	return Command{Action: action, Parameters: parameters}
}

// IsCommand сообщает, похож ли input на JSON-объект команды.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "{")
}

// EncodeCommand сериализует команду в JSON для передачи в Execute.
func EncodeCommand(cmd Command) (string, error) {
	if cmd.Action == "" {
		return "", CommandError("", "action is empty")
	}
	buf, err := json.Marshal(cmd)
	if err != nil {
		return "", CommandError(cmd.Action, fmt.Sprintf("encode: %v", err))
	}
	return string(buf), nil
}

// DecodeCommand разбирает JSON-команду. Ключи должны быть уникальны,
// неизвестные поля верхнего уровня запрещены. Ошибки возвращаются как CommandError.
func DecodeCommand(input string) (Command, error) {
	data := []byte(strings.TrimSpace(input))
	if err := checkDuplicateKeys(json.NewDecoder(bytes.NewReader(data))); err != nil {
		return Command{}, CommandError(truncate(input), err.Error())
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	var cmd Command
	if err := dec.Decode(&cmd); err != nil {
		return Command{}, CommandError(truncate(input), fmt.Sprintf("decode: %v", err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Command{}, CommandError(truncate(input), "trailing data after command")
	}
	if cmd.Action == "" {
		return Command{}, CommandError("", "action is empty")
	}
	return cmd, nil
}

// DecodeParameters раскладывает Parameters в dst через JSON.
func (c Command) DecodeParameters(dst any) error {
	buf, err := json.Marshal(c.Parameters)
	if err != nil {
		return CommandError(c.Action, fmt.Sprintf("encode parameters: %v", err))
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return CommandError(c.Action, fmt.Sprintf("decode parameters: %v", err))
	}
	return nil
}

var errDuplicateKey = errors.New("duplicate key")

func checkDuplicateKeys(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty command")
		}
		return err
	}
	return walkValue(dec, tok)
}

func walkValue(dec *json.Decoder, tok json.Token) error {
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch delim {
	case '{':
		seen := make(map[string]struct{})
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := keyTok.(string)
			if _, dup := seen[key]; dup {
				return fmt.Errorf("%w %q", errDuplicateKey, key)
			}
			seen[key] = struct{}{}
			valTok, err := dec.Token()
			if err != nil {
				return err
			}
			if err := walkValue(dec, valTok); err != nil {
				return err
			}
		}
	case '[':
		for dec.More() {
			valTok, err := dec.Token()
			if err != nil {
				return err
			}
			if err := walkValue(dec, valTok); err != nil {
				return err
			}
		}
	}
	// закрывающий разделитель
	_, err := dec.Token()
	return err
}

func truncate(s string) string {
	const limit = 64
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
