package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"portal-duel-service/internal/domain"
)

// QuizLoader loads duel question sets stored as JSONB.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuestionSet(ctx context.Context, subjectID, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx,
		`SELECT data FROM question_sets WHERE subject_id=$1 AND quiz_id=$2`, subjectID, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load question set: %w", err)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal question set: %w", err)
	}
	return quiz, nil
}
