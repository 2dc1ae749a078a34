package store

import (
	"context"
	"fmt"
	"time"

	"bizcal/internal/model"
)

// CreateDeal inserts d, assigning an ID when empty.
func (s *SQLite) CreateDeal(ctx context.Context, d model.Deal) (model.Deal, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deals (id, title, stage, value, owner_id, close_date) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Stage, d.Value, int64(d.OwnerID), fmtTime(d.CloseDate))
	if err != nil {
		return model.Deal{}, fmt.Errorf("store: create deal: %w", err)
	}
	return d, nil
}

func (s *SQLite) ListDeals(ctx context.Context) ([]model.Deal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, stage, value, owner_id, close_date FROM deals ORDER BY close_date, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list deals: %w", err)
	}
	defer rows.Close()

	var out []model.Deal
	for rows.Next() {
		var (
			d     model.Deal
			owner int64
			close string
		)
		if err := rows.Scan(&d.ID, &d.Title, &d.Stage, &d.Value, &owner, &close); err != nil {
			return nil, fmt.Errorf("store: list deals: %w", err)
		}
		d.OwnerID = model.OwnerID(owner)
		if d.CloseDate, err = parseTime(close); err != nil {
			return nil, fmt.Errorf("store: deal %s close_date: %w", d.ID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetDealCloseDate moves a deal on the calendar.
func (s *SQLite) SetDealCloseDate(ctx context.Context, id string, d time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE deals SET close_date = ? WHERE id = ?`, fmtTime(d), id)
	if err != nil {
		return fmt.Errorf("store: set deal close date %s: %w", id, err)
	}
	return expectOne(res, "deal", id)
}

func (s *SQLite) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, status, owner_id, deadline) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Status, int64(p.OwnerID), fmtTime(p.Deadline))
	if err != nil {
		return model.Project{}, fmt.Errorf("store: create project: %w", err)
	}
	return p, nil
}

func (s *SQLite) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, owner_id, deadline FROM projects ORDER BY deadline, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var (
			p        model.Project
			owner    int64
			deadline string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &owner, &deadline); err != nil {
			return nil, fmt.Errorf("store: list projects: %w", err)
		}
		p.OwnerID = model.OwnerID(owner)
		if p.Deadline, err = parseTime(deadline); err != nil {
			return nil, fmt.Errorf("store: project %s deadline: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetProjectDeadline moves a project on the calendar.
func (s *SQLite) SetProjectDeadline(ctx context.Context, id string, d time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET deadline = ? WHERE id = ?`, fmtTime(d), id)
	if err != nil {
		return fmt.Errorf("store: set project deadline %s: %w", id, err)
	}
	return expectOne(res, "project", id)
}

func (s *SQLite) CreateInvoice(ctx context.Context, inv model.Invoice) (model.Invoice, error) {
	if inv.ID == "" {
		inv.ID = newID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invoices (id, number, customer, amount, status, due_date) VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Number, inv.Customer, inv.Amount, inv.Status, fmtTime(inv.DueDate))
	if err != nil {
		return model.Invoice{}, fmt.Errorf("store: create invoice: %w", err)
	}
	return inv, nil
}

func (s *SQLite) ListInvoices(ctx context.Context) ([]model.Invoice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, number, customer, amount, status, due_date FROM invoices ORDER BY due_date, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list invoices: %w", err)
	}
	defer rows.Close()

	var out []model.Invoice
	for rows.Next() {
		var (
			inv model.Invoice
			due string
		)
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.Customer, &inv.Amount, &inv.Status, &due); err != nil {
			return nil, fmt.Errorf("store: list invoices: %w", err)
		}
		if inv.DueDate, err = parseTime(due); err != nil {
			return nil, fmt.Errorf("store: invoice %s due_date: %w", inv.ID, err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Owners returns every distinct non-zero owner referenced by tasks, deals
// or projects, ascending.
func (s *SQLite) Owners(ctx context.Context) ([]model.OwnerID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id FROM tasks WHERE owner_id <> 0
		UNION SELECT owner_id FROM deals WHERE owner_id <> 0
		UNION SELECT owner_id FROM projects WHERE owner_id <> 0
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("store: owners: %w", err)
	}
	defer rows.Close()

	var out []model.OwnerID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: owners: %w", err)
		}
		out = append(out, model.OwnerID(id))
	}
	return out, rows.Err()
}
