package adapter

import (
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "rentbot/internal/transport"
)

// classify maps Telegram "this chat will never accept us" failures onto
// kit.ErrUnreachable. Other errors are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return fmt.Errorf("%w: %v", kit.ErrUnreachable, err)
	}
	// Errors telebot does not know come back as "telegram: <desc> (<code>)".
	low := strings.ToLower(err.Error())
	if strings.Contains(low, "(403)") || strings.Contains(low, "forbidden") || strings.Contains(low, "blocked") {
		return fmt.Errorf("%w: %v", kit.ErrUnreachable, err)
	}
	return err
}
