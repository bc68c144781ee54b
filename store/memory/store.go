// Package memory is an in-process Bursar store. Atomic units are serialised
// behind one writer lock and work on a copy of the state that replaces the
// live state only when the unit succeeds.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/student"
)

var _ store.Store = (*Store)(nil)

type state struct {
	heads      map[string]*fee.Head
	structures map[string]*fee.Structure
	overrides  map[string]*fee.Override // student|head
	students   map[string]*student.Student
	accounts   map[string]*account.Account
	byStudent  map[string]string // student -> account
	charges    map[string]*charge.Charge
	periods    map[string]string // student|head|period -> charge
	txns       []*account.Transaction
}

func newState() *state {
	return &state{
		heads:      make(map[string]*fee.Head),
		structures: make(map[string]*fee.Structure),
		overrides:  make(map[string]*fee.Override),
		students:   make(map[string]*student.Student),
		accounts:   make(map[string]*account.Account),
		byStudent:  make(map[string]string),
		charges:    make(map[string]*charge.Charge),
		periods:    make(map[string]string),
	}
}

// clone is shallow: entries are replaced, never mutated, once stored.
func (st *state) clone() *state {
	return &state{
		heads:      maps.Clone(st.heads),
		structures: maps.Clone(st.structures),
		overrides:  maps.Clone(st.overrides),
		students:   maps.Clone(st.students),
		accounts:   maps.Clone(st.accounts),
		byStudent:  maps.Clone(st.byStudent),
		charges:    maps.Clone(st.charges),
		periods:    maps.Clone(st.periods),
		txns:       slices.Clone(st.txns),
	}
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	st     *state
	closed bool

	// writer serialises atomic units; mu only guards the swap.
	writer sync.Mutex
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.writer.Lock()
	defer s.writer.Unlock()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return bursar.ErrStoreClosed
	}
	next := s.st.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{st: next}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = next
	s.mu.Unlock()
	return nil
}

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return bursar.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) read() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// write runs fn as a one-statement unit for catalog configuration.
func (s *Store) write(fn func(st *state) error) error {
	return s.RunInTx(context.Background(), func(_ context.Context, t store.Tx) error {
		return fn(t.(*tx).st)
	})
}

// ==================== Fee catalog ====================

func (s *Store) CreateFeeHead(_ context.Context, h *fee.Head) error {
	return s.write(func(st *state) error {
		if _, ok := st.heads[h.ID.String()]; ok {
			return bursar.ErrAlreadyExists
		}
		for _, existing := range st.heads {
			if existing.Name == h.Name {
				return bursar.ErrAlreadyExists
			}
		}
		cp := *h
		st.heads[h.ID.String()] = &cp
		return nil
	})
}

func (s *Store) GetFeeHead(_ context.Context, headID id.FeeHeadID) (*fee.Head, error) {
	return getFeeHead(s.read(), headID)
}

func getFeeHead(st *state, headID id.FeeHeadID) (*fee.Head, error) {
	h, ok := st.heads[headID.String()]
	if !ok {
		return nil, bursar.ErrFeeHeadNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *Store) ListFeeHeads(_ context.Context) ([]*fee.Head, error) {
	st := s.read()
	out := make([]*fee.Head, 0, len(st.heads))
	for _, h := range st.heads {
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteFeeHead(_ context.Context, headID id.FeeHeadID) error {
	return s.write(func(st *state) error {
		key := headID.String()
		if _, ok := st.heads[key]; !ok {
			return bursar.ErrFeeHeadNotFound
		}
		if headInUse(st, headID) {
			return bursar.ErrFeeHeadInUse
		}
		delete(st.heads, key)
		for k, fs := range st.structures {
			if fs.FeeHeadID.String() == key {
				delete(st.structures, k)
			}
		}
		for k, o := range st.overrides {
			if o.FeeHeadID.String() == key {
				delete(st.overrides, k)
			}
		}
		return nil
	})
}

func (s *Store) CreateStructure(_ context.Context, fs *fee.Structure) error {
	return s.write(func(st *state) error {
		if _, ok := st.heads[fs.FeeHeadID.String()]; !ok {
			return bursar.ErrFeeHeadNotFound
		}
		for _, existing := range st.structures {
			if existing.ClassID == fs.ClassID && existing.FeeHeadID == fs.FeeHeadID {
				return bursar.ErrAlreadyExists
			}
		}
		cp := *fs
		st.structures[fs.ID.String()] = &cp
		return nil
	})
}

func (s *Store) ListStructures(_ context.Context, opts fee.ListOpts) ([]*fee.Structure, error) {
	return listStructures(s.read(), opts), nil
}

func listStructures(st *state, opts fee.ListOpts) []*fee.Structure {
	out := make([]*fee.Structure, 0)
	for _, fs := range st.structures {
		if !opts.ClassID.IsNil() && fs.ClassID != opts.ClassID {
			continue
		}
		if !opts.FeeHeadID.IsNil() && fs.FeeHeadID != opts.FeeHeadID {
			continue
		}
		cp := *fs
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (s *Store) DeleteStructure(_ context.Context, structureID id.StructureID) error {
	return s.write(func(st *state) error {
		if _, ok := st.structures[structureID.String()]; !ok {
			return bursar.ErrStructureNotFound
		}
		delete(st.structures, structureID.String())
		return nil
	})
}

func overrideKey(studentID id.StudentID, headID id.FeeHeadID) string {
	return studentID.String() + "|" + headID.String()
}

func (s *Store) SetOverride(_ context.Context, o *fee.Override) error {
	return s.write(func(st *state) error {
		return setOverride(st, o)
	})
}

func setOverride(st *state, o *fee.Override) error {
	if _, ok := st.heads[o.FeeHeadID.String()]; !ok {
		return bursar.ErrFeeHeadNotFound
	}
	key := overrideKey(o.StudentID, o.FeeHeadID)
	if existing, ok := st.overrides[key]; ok {
		o.ID = existing.ID
		o.CreatedAt = existing.CreatedAt
	}
	cp := *o
	st.overrides[key] = &cp
	return nil
}

func (s *Store) ListOverrides(_ context.Context, studentID id.StudentID) ([]*fee.Override, error) {
	return listOverrides(s.read(), studentID), nil
}

func listOverrides(st *state, studentID id.StudentID) []*fee.Override {
	out := make([]*fee.Override, 0)
	for _, o := range st.overrides {
		if o.StudentID == studentID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (s *Store) DeleteOverride(_ context.Context, studentID id.StudentID, headID id.FeeHeadID) error {
	return s.write(func(st *state) error {
		key := overrideKey(studentID, headID)
		if _, ok := st.overrides[key]; !ok {
			return bursar.ErrOverrideNotFound
		}
		delete(st.overrides, key)
		return nil
	})
}

// ==================== Charges ====================

func (s *Store) GetCharge(_ context.Context, chargeID id.ChargeID) (*charge.Charge, error) {
	return getCharge(s.read(), chargeID)
}

func getCharge(st *state, chargeID id.ChargeID) (*charge.Charge, error) {
	c, ok := st.charges[chargeID.String()]
	if !ok {
		return nil, bursar.ErrChargeNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListCharges(_ context.Context, studentID id.StudentID, opts charge.ListOpts) ([]*charge.Charge, error) {
	out := listCharges(s.read(), opts.ForStudent(studentID))
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.After(out[j].DueDate)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return page(out, opts.Offset, opts.Limit), nil
}

func (s *Store) ListAllCharges(_ context.Context, opts charge.FeeListOpts) ([]*charge.Charge, int, error) {
	out := listCharges(s.read(), opts)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return page(out, opts.Offset, opts.Limit), len(out), nil
}

func listCharges(st *state, opts charge.FeeListOpts) []*charge.Charge {
	match := opts.Match()
	out := make([]*charge.Charge, 0)
	for _, c := range st.charges {
		if !opts.StudentID.IsNil() && c.StudentID != opts.StudentID {
			continue
		}
		if !opts.ClassID.IsNil() {
			stu, ok := st.students[c.StudentID.String()]
			if !ok || stu.ClassID != opts.ClassID {
				continue
			}
		}
		if !opts.FeeHeadID.IsNil() && c.FeeHeadID != opts.FeeHeadID {
			continue
		}
		if opts.Month != 0 && c.Month != opts.Month {
			continue
		}
		if opts.Year != 0 && c.Year != opts.Year {
			continue
		}
		if !match.Matches(c) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out
}

func (s *Store) ListUnsettled(_ context.Context) ([]*charge.Charge, error) {
	st := s.read()
	out := make([]*charge.Charge, 0)
	for _, c := range st.charges {
		if c.Status != charge.StatusPaid {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Store) SumPaid(_ context.Context) (int64, error) {
	var total int64
	for _, c := range s.read().charges {
		total += c.PaidAmount.Amount
	}
	return total, nil
}

func (s *Store) HeadInUse(_ context.Context, headID id.FeeHeadID) (bool, error) {
	return headInUse(s.read(), headID), nil
}

func headInUse(st *state, headID id.FeeHeadID) bool {
	for _, c := range st.charges {
		if c.FeeHeadID == headID {
			return true
		}
	}
	return false
}

// ==================== Accounts ====================

func (s *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	return getAccount(s.read(), accountID)
}

func getAccount(st *state, accountID id.AccountID) (*account.Account, error) {
	a, ok := st.accounts[accountID.String()]
	if !ok {
		return nil, bursar.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetAccountByStudent(_ context.Context, studentID id.StudentID) (*account.Account, error) {
	return getAccountByStudent(s.read(), studentID)
}

func getAccountByStudent(st *state, studentID id.StudentID) (*account.Account, error) {
	acctID, ok := st.byStudent[studentID.String()]
	if !ok {
		return nil, bursar.ErrAccountNotFound
	}
	cp := *st.accounts[acctID]
	return &cp, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID id.AccountID, opts account.ListOpts) ([]*account.Transaction, error) {
	st := s.read()
	out := make([]*account.Transaction, 0)
	for i := len(st.txns) - 1; i >= 0; i-- {
		t := st.txns[i]
		if t.AccountID != accountID {
			continue
		}
		if opts.Type != "" && t.Type != opts.Type {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return page(out, opts.Offset, opts.Limit), nil
}

func (s *Store) ListAllTransactions(_ context.Context, opts account.ListOpts) ([]*account.Transaction, error) {
	st := s.read()
	out := make([]*account.Transaction, 0)
	for i := len(st.txns) - 1; i >= 0; i-- {
		t := st.txns[i]
		if opts.Type != "" && t.Type != opts.Type {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return page(out, opts.Offset, opts.Limit), nil
}

// ==================== Students ====================

func (s *Store) GetStudent(_ context.Context, studentID id.StudentID) (*student.Student, error) {
	return getStudent(s.read(), studentID)
}

func getStudent(st *state, studentID id.StudentID) (*student.Student, error) {
	stu, ok := st.students[studentID.String()]
	if !ok {
		return nil, bursar.ErrStudentNotFound
	}
	cp := *stu
	return &cp, nil
}

func (s *Store) ListBillable(_ context.Context) ([]id.StudentID, error) {
	st := s.read()
	out := make([]id.StudentID, 0)
	for _, stu := range st.students {
		if stu.Billable() {
			out = append(out, stu.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// UpsertStudent stores a student projection outside an atomic unit. It is
// how the student-lifecycle side keeps status and class current.
func (s *Store) UpsertStudent(_ context.Context, stu *student.Student) error {
	return s.write(func(st *state) error {
		cp := *stu
		st.students[stu.ID.String()] = &cp
		return nil
	})
}

func page[T any](items []T, offset, limit int) []T {
	start := min(max(offset, 0), len(items))
	end := start + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
