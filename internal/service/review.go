package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iliyamo/runclub-portal/internal/model"
	"github.com/iliyamo/runclub-portal/internal/repository"
)

// MaxCommentRunes bounds review comments.
const MaxCommentRunes = 2000

// ReviewWriter stores reviews.  *repository.ReviewRepo implements it.
type ReviewWriter interface {
	Create(ctx context.Context, rv *model.Review) error
}

// ReviewService accepts reviews from members who attended an event.
type ReviewService struct {
	events   EventReader
	bookings Bookings
	reviews  ReviewWriter
	now      func() time.Time
}

func NewReviewService(events EventReader, bookings Bookings, reviews ReviewWriter) *ReviewService {
	return &ReviewService{events: events, bookings: bookings, reviews: reviews, now: time.Now}
}

// Create records a pending review by memberID for the event slug.  The
// event must have started and the member must hold a confirmed, paid
// booking for it, either their own or a guest booking linked to them.  A
// second review yields repository.ErrConflict.
func (s *ReviewService) Create(ctx context.Context, memberID uint64, slug string, rating int, comment string) (*model.Review, error) {
	comment = strings.TrimSpace(comment)
	if rating < 1 || rating > 5 || utf8.RuneCountInString(comment) > MaxCommentRunes {
		return nil, ErrInvalidReview
	}
	ev, err := s.events.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if ev.StartsAt.After(s.now()) {
		return nil, ErrEventNotFinished
	}
	b, err := s.bookings.AttendedBy(ctx, ev.ID, memberID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotAttended
	}
	if err != nil {
		return nil, err
	}
	if !b.IsPaid() {
		return nil, ErrNotAttended
	}
	rv := &model.Review{EventID: ev.ID, MemberID: memberID, Rating: rating, Comment: comment}
	if err := s.reviews.Create(ctx, rv); err != nil {
		return nil, err
	}
	return rv, nil
}
