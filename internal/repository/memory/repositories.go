package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"fundflow/internal/domain"
	"fundflow/internal/port"

	"github.com/google/uuid"
)

type campaignRepository struct{ s *Store }
type donationRepository struct{ s *Store }
type voteRepository struct{ s *Store }
type withdrawalRepository struct{ s *Store }
type refundBatchRepository struct{ s *Store }

func NewCampaignRepository(s *Store) port.CampaignRepository { return &campaignRepository{s: s} }
func NewDonationRepository(s *Store) port.DonationRepository { return &donationRepository{s: s} }
func NewVoteRepository(s *Store) port.VoteRepository         { return &voteRepository{s: s} }
func NewWithdrawalRepository(s *Store) port.WithdrawalRepository {
	return &withdrawalRepository{s: s}
}
func NewRefundBatchRepository(s *Store) port.RefundBatchRepository {
	return &refundBatchRepository{s: s}
}

//--------------------Campaign

func (r *campaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.campaigns[c.ID]; ok {
			return domain.ErrDuplicateOperation
		}
		st.campaigns[c.ID] = *c
		return nil
	})
}

func (r *campaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	var (
		c  domain.Campaign
		ok bool
	)
	r.s.read(ctx, func(st *state) { c, ok = st.campaigns[id] })
	if !ok {
		return nil, domain.ErrCampaignNotFound
	}
	return &c, nil
}

func (r *campaignRepository) Update(ctx context.Context, c *domain.Campaign) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.campaigns[c.ID]; !ok {
			return domain.ErrCampaignNotFound
		}
		st.campaigns[c.ID] = *c
		return nil
	})
}

func (r *campaignRepository) WithLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	return r.s.WithinTx(ctx, func(txCtx context.Context) error {
		if _, err := r.GetByID(txCtx, id); err != nil {
			return err
		}
		return fn(txCtx)
	})
}

//--------------------Donation

func (r *donationRepository) Create(ctx context.Context, d *domain.Donation) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.donations[d.ID]; ok {
			return domain.ErrDuplicateOperation
		}
		st.donations[d.ID] = *d
		st.donationSeq = append(st.donationSeq, d.ID)
		return nil
	})
}

func (r *donationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	var (
		d  domain.Donation
		ok bool
	)
	r.s.read(ctx, func(st *state) { d, ok = st.donations[id] })
	if !ok {
		return nil, domain.ErrDonationNotFound
	}
	return &d, nil
}

func (r *donationRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Donation, error) {
	var out []domain.Donation
	r.s.read(ctx, func(st *state) {
		for _, id := range st.donationSeq {
			if d := st.donations[id]; d.CampaignID == campaignID {
				out = append(out, d)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *donationRepository) HasVotingDonation(ctx context.Context, campaignID uuid.UUID, donorID string) (bool, error) {
	found := false
	r.s.read(ctx, func(st *state) {
		for _, d := range st.donations {
			if d.CampaignID == campaignID && d.DonorID == donorID && d.CountsForVoting() {
				found = true
				return
			}
		}
	})
	return found, nil
}

func (r *donationRepository) TransitionRefundStatus(ctx context.Context, ids []uuid.UUID, from []domain.RefundStatus, to domain.RefundStatus) error {
	return r.s.write(ctx, func(st *state) error {
		for _, id := range ids {
			d, ok := st.donations[id]
			if !ok {
				return domain.ErrDonationNotFound
			}
			if !slices.Contains(from, d.RefundStatus) {
				return domain.ErrConcurrentUpdate
			}
		}
		for _, id := range ids {
			d := st.donations[id]
			d.RefundStatus = to
			st.donations[id] = d
		}
		return nil
	})
}

//--------------------Vote

func (r *voteRepository) Create(ctx context.Context, v *domain.Vote) error {
	return r.s.write(ctx, func(st *state) error {
		for _, existing := range st.votes {
			if existing.CampaignID == v.CampaignID && existing.VoterID == v.VoterID {
				return domain.ErrDuplicateOperation
			}
		}
		st.votes[v.ID] = *v
		st.voteSeq = append(st.voteSeq, v.ID)
		return nil
	})
}

func (r *voteRepository) Exists(ctx context.Context, campaignID uuid.UUID, voterID string) (bool, error) {
	found := false
	r.s.read(ctx, func(st *state) {
		for _, v := range st.votes {
			if v.CampaignID == campaignID && v.VoterID == voterID {
				found = true
				return
			}
		}
	})
	return found, nil
}

func (r *voteRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Vote, error) {
	var out []domain.Vote
	r.s.read(ctx, func(st *state) {
		for _, id := range st.voteSeq {
			if v := st.votes[id]; v.CampaignID == campaignID {
				out = append(out, v)
			}
		}
	})
	return out, nil
}

//--------------------Withdrawal

func copyWithdrawal(w domain.Withdrawal) domain.Withdrawal {
	if w.BeneficiaryDetails != nil {
		details := *w.BeneficiaryDetails
		w.BeneficiaryDetails = &details
	}
	return w
}

func (r *withdrawalRepository) Create(ctx context.Context, w *domain.Withdrawal) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.withdrawals[w.ID]; ok {
			return domain.ErrDuplicateOperation
		}
		st.withdrawals[w.ID] = copyWithdrawal(*w)
		st.wSeq = append(st.wSeq, w.ID)
		return nil
	})
}

func (r *withdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	var (
		w  domain.Withdrawal
		ok bool
	)
	r.s.read(ctx, func(st *state) { w, ok = st.withdrawals[id] })
	if !ok {
		return nil, domain.ErrWithdrawalNotFound
	}
	w = copyWithdrawal(w)
	return &w, nil
}

// GetForUpdate relies on the store-wide transaction lock.
func (r *withdrawalRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	return r.GetByID(ctx, id)
}

func (r *withdrawalRepository) list(ctx context.Context, match func(domain.Withdrawal) bool) []domain.Withdrawal {
	var out []domain.Withdrawal
	r.s.read(ctx, func(st *state) {
		for _, id := range st.wSeq {
			if w := st.withdrawals[id]; match(w) {
				out = append(out, copyWithdrawal(w))
			}
		}
	})
	return out
}

func (r *withdrawalRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Withdrawal, error) {
	return r.list(ctx, func(w domain.Withdrawal) bool { return w.CampaignID == campaignID }), nil
}

func (r *withdrawalRepository) ListByStatus(ctx context.Context, status domain.WithdrawalStatus) ([]domain.Withdrawal, error) {
	return r.list(ctx, func(w domain.Withdrawal) bool { return status == "" || w.Status == status }), nil
}

func (r *withdrawalRepository) Update(ctx context.Context, w *domain.Withdrawal, expected domain.WithdrawalStatus) error {
	return r.s.write(ctx, func(st *state) error {
		current, ok := st.withdrawals[w.ID]
		if !ok {
			return domain.ErrWithdrawalNotFound
		}
		if current.Status != expected {
			return domain.ErrConcurrentUpdate
		}
		st.withdrawals[w.ID] = copyWithdrawal(*w)
		return nil
	})
}

//--------------------Refund batch

func (r *refundBatchRepository) Create(ctx context.Context, b *domain.RefundBatch) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.byWithdraw[b.WithdrawalID]; ok {
			return domain.ErrDuplicateOperation
		}
		st.batches[b.ID] = copyBatch(*b)
		st.byWithdraw[b.WithdrawalID] = b.ID
		return nil
	})
}

func (r *refundBatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.RefundBatch, error) {
	var (
		b  domain.RefundBatch
		ok bool
	)
	r.s.read(ctx, func(st *state) {
		b, ok = st.batches[id]
		if ok {
			b = copyBatch(b)
		}
	})
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	return &b, nil
}

func (r *refundBatchRepository) GetByWithdrawalID(ctx context.Context, withdrawalID uuid.UUID) (*domain.RefundBatch, error) {
	var (
		id uuid.UUID
		ok bool
	)
	r.s.read(ctx, func(st *state) { id, ok = st.byWithdraw[withdrawalID] })
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	return r.GetByID(ctx, id)
}

// GetForUpdate relies on the store-wide transaction lock.
func (r *refundBatchRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.RefundBatch, error) {
	return r.GetByID(ctx, id)
}

func (r *refundBatchRepository) UpdateTask(ctx context.Context, t *domain.RefundTask, from domain.TaskStatus) error {
	return r.s.write(ctx, func(st *state) error {
		b, ok := st.batches[t.BatchID]
		if !ok {
			return domain.ErrBatchNotFound
		}
		for i := range b.RefundDetails {
			if b.RefundDetails[i].ID != t.ID {
				continue
			}
			if b.RefundDetails[i].Status != from {
				return domain.ErrConcurrentUpdate
			}
			b.RefundDetails[i] = *t
			st.batches[b.ID] = copyBatch(b)
			return nil
		}
		return domain.ErrBatchNotFound
	})
}

func (r *refundBatchRepository) MarkStarted(ctx context.Context, t *domain.RefundTask) error {
	return r.s.write(ctx, func(st *state) error {
		b, ok := st.batches[t.BatchID]
		if !ok {
			return domain.ErrBatchNotFound
		}
		for i := range b.RefundDetails {
			stored := &b.RefundDetails[i]
			if stored.ID != t.ID {
				continue
			}
			if stored.Status != domain.TaskProcessing || stored.ClaimID != t.ClaimID {
				return domain.ErrConcurrentUpdate
			}
			at := *t.LastAttemptAt
			stored.LastAttemptAt = &at
			st.batches[b.ID] = copyBatch(b)
			return nil
		}
		return domain.ErrBatchNotFound
	})
}

func (r *refundBatchRepository) UpdateStatus(ctx context.Context, b *domain.RefundBatch) error {
	return r.s.write(ctx, func(st *state) error {
		stored, ok := st.batches[b.ID]
		if !ok {
			return domain.ErrBatchNotFound
		}
		stored.Status = b.Status
		stored.UpdatedAt = b.UpdatedAt
		stored.ProcessedAt = b.ProcessedAt
		st.batches[b.ID] = stored
		return nil
	})
}

func (r *refundBatchRepository) ListStaleTasks(ctx context.Context, dispatchedBefore time.Time) ([]domain.RefundTask, error) {
	var out []domain.RefundTask
	r.s.read(ctx, func(st *state) {
		for _, b := range st.batches {
			for _, t := range b.RefundDetails {
				if t.Status == domain.TaskProcessing && t.LastAttemptAt != nil && t.LastAttemptAt.Before(dispatchedBefore) {
					out = append(out, t)
				}
			}
		}
	})
	return out, nil
}
