// Package broker — топик сообщений, живущий в той же базе, что и документы заказов.
// Сессия брокера открывается поверх транзакции хранилища, поэтому вставка
// заказа и отправка события фиксируются одним commit'ом.
package broker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidTopic — некорректный владелец или имя топика.
var ErrInvalidTopic = errors.New("некорректное имя топика")

// identifier — имя схемы/объекта: буква, затем буквы, цифры, _ $ #.
var identifier = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_$#]{0,127}$`)

// Topic — адрес топика (владелец, имя). Хранится в верхнем регистре.
type Topic struct {
	Owner string
	Name  string
}

// NewTopic проверяет и нормализует владельца и имя топика.
func NewTopic(owner, name string) (Topic, error) {
	owner = strings.TrimSpace(owner)
	name = strings.TrimSpace(name)

	if !identifier.MatchString(owner) {
		return Topic{}, fmt.Errorf("%w: владелец %q", ErrInvalidTopic, owner)
	}
	if !identifier.MatchString(name) {
		return Topic{}, fmt.Errorf("%w: имя %q", ErrInvalidTopic, name)
	}

	return Topic{Owner: strings.ToUpper(owner), Name: strings.ToUpper(name)}, nil
}

// String возвращает квалифицированное имя OWNER.NAME.
// Это же значение продюсер возвращает вызывающему как подтверждение.
func (t Topic) String() string {
	return t.Owner + "." + t.Name
}
