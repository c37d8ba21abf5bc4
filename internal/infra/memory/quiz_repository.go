package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"portal-duel-service/internal/domain"
)

// QuestionSetLoader fetches duel question sets from a backing store.
type QuestionSetLoader interface {
	LoadQuestionSet(ctx context.Context, subjectID, quizID string) (domain.Quiz, error)
}

// QuizRepository caches question sets with TTL to avoid repeated store hits
// while both duel participants load the same quiz.
type QuizRepository struct {
	loader QuestionSetLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizRepository(loader QuestionSetLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuiz),
	}
}

func (r *QuizRepository) GetQuestionSet(ctx context.Context, subjectID, quizID string) (domain.Quiz, error) {
	key := subjectID + ":" + quizID
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.quiz, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.quiz, nil
		}
		r.mu.RUnlock()

		quiz, err := r.loader.LoadQuestionSet(ctx, subjectID, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		r.mu.Lock()
		r.cache[key] = cachedQuiz{
			quiz:      quiz,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionSetLoader serves question sets from a fixed map, keyed by
// subjectID:quizID. Useful for dev mode and tests.
type StaticQuestionSetLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuestionSetLoader(quizzes map[string]domain.Quiz) *StaticQuestionSetLoader {
	return &StaticQuestionSetLoader{quizzes: quizzes}
}

func (l *StaticQuestionSetLoader) LoadQuestionSet(_ context.Context, subjectID, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[subjectID+":"+quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}
