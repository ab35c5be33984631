package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bizledger/backend/internal/domain/billing"
	"github.com/bizledger/backend/internal/domain/shared"
	"github.com/bizledger/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormCreditNoteRepository implements billing.CreditNoteRepository using GORM
type GormCreditNoteRepository struct {
	db    *gorm.DB
	clock shared.Clock
}

// NewGormCreditNoteRepository creates a new GormCreditNoteRepository
func NewGormCreditNoteRepository(db *gorm.DB, clock shared.Clock) *GormCreditNoteRepository {
	return &GormCreditNoteRepository{db: db, clock: clock}
}

// FindByID finds a credit note by its ID. Returns nil without error when the
// credit note does not exist.
func (r *GormCreditNoteRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.CreditNote, error) {
	var model models.CreditNoteModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByInvoice returns all credit notes issued against an invoice, oldest first
func (r *GormCreditNoteRepository) FindByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]billing.CreditNote, error) {
	var noteModels []models.CreditNoteModel
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&noteModels).Error; err != nil {
		return nil, err
	}
	notes := make([]billing.CreditNote, len(noteModels))
	for i := range noteModels {
		notes[i] = *noteModels[i].ToDomain()
	}
	return notes, nil
}

// Create inserts the credit note and bumps the referenced invoice's version
// in the same transaction. The version bump serializes credit notes per
// invoice: of two concurrent notes validated against the same prior state,
// the second insert finds the version already moved and the whole
// transaction rolls back with shared.ErrConcurrencyConflict.
func (r *GormCreditNoteRepository) Create(ctx context.Context, note *billing.CreditNote, invoice *billing.Invoice) error {
	model := models.CreditNoteModelFromDomain(note)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.InvoiceModel{}).
			Where("id = ? AND version = ?", invoice.ID, invoice.GetVersion()).
			Update("version", invoice.GetVersion()+1)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrConcurrencyConflict
		}

		if err := tx.Create(model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return shared.ErrAlreadyExists
			}
			return err
		}
		return nil
	})
}

// GenerateCreditNoteNumber generates the next credit note number for today.
// Format: CN-YYYYMMDD-NNNNN, scoped per day.
func (r *GormCreditNoteRepository) GenerateCreditNoteNumber(ctx context.Context) (string, error) {
	prefix := fmt.Sprintf("CN-%s-", r.clock.Now().UTC().Format("20060102"))

	var maxNumber string
	if err := r.db.WithContext(ctx).
		Model(&models.CreditNoteModel{}).
		Select("credit_note_number").
		Where("credit_note_number LIKE ?", prefix+"%").
		Order("credit_note_number DESC").
		Limit(1).
		Pluck("credit_note_number", &maxNumber).Error; err != nil {
		return "", err
	}

	var nextNum int
	if maxNumber != "" {
		parts := strings.Split(maxNumber, "-")
		if len(parts) == 3 {
			fmt.Sscanf(parts[2], "%d", &nextNum)
		}
	}
	nextNum++

	return fmt.Sprintf("%s%05d", prefix, nextNum), nil
}

// Ensure GormCreditNoteRepository implements billing.CreditNoteRepository
var _ billing.CreditNoteRepository = (*GormCreditNoteRepository)(nil)
