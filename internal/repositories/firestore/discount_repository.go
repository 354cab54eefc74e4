package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

const (
	discountsCollection    = "discounts"
	discountUsesCollection = "uses"
)

// DiscountRepository validates and reserves promotional codes. The discount
// document ID is the uppercase code; per-customer use markers live in a
// subcollection keyed by a hash of the customer email.
type DiscountRepository struct {
	provider *pfirestore.Provider
	attempts int
}

// NewDiscountRepository constructs a Firestore backed discount repository.
func NewDiscountRepository(provider *pfirestore.Provider, txAttempts int) (*DiscountRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	return &DiscountRepository{provider: provider, attempts: txAttempts}, nil
}

// FindByCode fetches a discount without reserving it.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (domain.Discount, error) {
	if r == nil || r.provider == nil {
		return domain.Discount{}, errors.New("discount repository not initialised")
	}
	normalized := domain.NormalizeDiscountCode(code)
	if normalized == "" {
		return domain.Discount{}, domain.ErrDiscountNotFound
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Discount{}, err
	}

	snap, err := client.Collection(discountsCollection).Doc(normalized).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Discount{}, domain.ErrDiscountNotFound
		}
		return domain.Discount{}, pfirestore.WrapError("discounts.findByCode", err)
	}

	var discount domain.Discount
	if err := snap.DataTo(&discount); err != nil {
		return domain.Discount{}, fmt.Errorf("decode discount %s: %w", normalized, err)
	}
	discount.ID = normalized
	return discount, nil
}

// Reserve atomically re-validates the code, increments the usage counter, and
// records the per-customer use marker. Eligibility failures surface as the
// domain discount errors; the counter is untouched when any check fails.
func (r *DiscountRepository) Reserve(ctx context.Context, req repositories.DiscountReserveRequest) (domain.Discount, error) {
	if r == nil || r.provider == nil {
		return domain.Discount{}, errors.New("discount repository not initialised")
	}
	normalized := domain.NormalizeDiscountCode(req.Code)
	if normalized == "" {
		return domain.Discount{}, domain.ErrDiscountNotFound
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return domain.Discount{}, errors.New("discount reserve: customer email is required")
	}

	now := req.Now.UTC()
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Discount{}, err
	}

	var reserved domain.Discount
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		discountRef := client.Collection(discountsCollection).Doc(normalized)
		useRef := discountRef.Collection(discountUsesCollection).Doc(hashEmail(email))

		discountSnap, err := tx.Get(discountRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ErrDiscountNotFound
			}
			return err
		}

		alreadyUsed := true
		if _, err := tx.Get(useRef); err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			alreadyUsed = false
		}

		var discount domain.Discount
		if err := discountSnap.DataTo(&discount); err != nil {
			return fmt.Errorf("decode discount %s: %w", normalized, err)
		}
		discount.ID = normalized

		if err := discount.Validate(req.Subtotal, now, alreadyUsed); err != nil {
			return err
		}

		discount.CurrentUses++
		if err := tx.Set(discountRef, discount); err != nil {
			return err
		}
		use := domain.DiscountUse{
			Email:     email,
			OrderID:   strings.TrimSpace(req.OrderID),
			CreatedAt: now,
		}
		if err := tx.Create(useRef, use); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return domain.ErrDiscountAlreadyUsed
			}
			return err
		}

		reserved = discount
		return nil
	}, pfirestore.WithTxAttempts(r.attempts))
	if err != nil {
		return domain.Discount{}, wrapDiscountError("discounts.reserve", err)
	}
	return reserved, nil
}

// Rollback compensates a reservation whose order transaction failed. The
// counter never goes negative and a missing use marker is not an error, so the
// operation is safe to repeat.
func (r *DiscountRepository) Rollback(ctx context.Context, req repositories.DiscountRollbackRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("discount repository not initialised")
	}
	normalized := domain.NormalizeDiscountCode(req.Code)
	if normalized == "" {
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		discountRef := client.Collection(discountsCollection).Doc(normalized)
		useRef := discountRef.Collection(discountUsesCollection).Doc(hashEmail(email))

		discountSnap, err := tx.Get(discountRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}

		useExists := true
		if _, err := tx.Get(useRef); err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			useExists = false
		}

		var discount domain.Discount
		if err := discountSnap.DataTo(&discount); err != nil {
			return fmt.Errorf("decode discount %s: %w", normalized, err)
		}
		if discount.CurrentUses > 0 {
			discount.CurrentUses--
			if err := tx.Set(discountRef, discount); err != nil {
				return err
			}
		}
		if useExists {
			if err := tx.Delete(useRef); err != nil {
				return err
			}
		}
		return nil
	}, pfirestore.WithTxAttempts(r.attempts))
	return wrapDiscountError("discounts.rollback", err)
}

func hashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

func wrapDiscountError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrDiscountNotFound),
		errors.Is(err, domain.ErrDiscountInactive),
		errors.Is(err, domain.ErrDiscountExpired),
		errors.Is(err, domain.ErrDiscountExhausted),
		errors.Is(err, domain.ErrDiscountMinOrder),
		errors.Is(err, domain.ErrDiscountAlreadyUsed):
		return err
	}
	return pfirestore.WrapError(op, err)
}
