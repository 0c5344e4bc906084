// Package domain содержит сущность заказа, метаданные корреляции и доменные ошибки.
package domain

import "errors"

// Доменные ошибки сервиса событий заказов.
// Инфраструктурная причина оборачивается вместе с sentinel'ом:
//
//	fmt.Errorf("%w: %w", domain.ErrPublish, err)
//
// поэтому errors.Is срабатывает и на sentinel, и на исходную ошибку.
var (
	// ErrConnection — не удалось открыть соединение, транзакцию или сессию брокера.
	ErrConnection = errors.New("ошибка соединения с хранилищем")

	// ErrDuplicateKey — заказ с таким идентификатором уже существует.
	ErrDuplicateKey = errors.New("заказ с таким идентификатором уже существует")

	// ErrOrderNotFound — заказ не найден.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrSerialization — заказ не удалось сериализовать или разобрать.
	ErrSerialization = errors.New("ошибка сериализации заказа")

	// ErrPublish — не удалось опубликовать событие в топик.
	ErrPublish = errors.New("ошибка публикации события")

	// ErrRollback — откат транзакции сам завершился ошибкой.
	// Никогда не подменяет исходную ошибку, только логируется.
	ErrRollback = errors.New("ошибка отката транзакции")

	// ErrCorrelation — в контексте нет активного span'а, ECID получить неоткуда.
	ErrCorrelation = errors.New("нет активного span'а для корреляции")

	// ErrInvalidOrder — пустые обязательные поля заказа.
	ErrInvalidOrder = errors.New("некорректные данные заказа")

	// ErrSessionState — операция недопустима в текущем состоянии сессии.
	ErrSessionState = errors.New("недопустимое состояние сессии")
)
