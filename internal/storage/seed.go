package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"orderbot/internal/taxid"
	"orderbot/internal/textutil"
)

// Catalog is the YAML document accepted by `orderbot seed`. Rows are keyed
// by their natural keys, so seeding the same file twice is harmless.
type Catalog struct {
	Sizes          []string          `yaml:"sizes"`
	Grades         []SeedGrade       `yaml:"grades"`
	Products       []SeedProduct     `yaml:"products"`
	PaymentMethods []SeedPayment     `yaml:"payment_methods"`
	Statuses       []SeedStatus      `yaml:"statuses"`
	Stages         []SeedStage       `yaml:"stages"`
	Settings       map[string]string `yaml:"settings"`
	Customers      []SeedCustomer    `yaml:"customers"`
}

type SeedGrade struct {
	Name  string   `yaml:"name"`
	Sizes []string `yaml:"sizes"`
}

type SeedProduct struct {
	Code         string `yaml:"code"`
	Description  string `yaml:"description"`
	Grade        string `yaml:"grade"`
	LeadTimeDays *int   `yaml:"lead_time_days"`
}

type SeedPayment struct {
	Name    string `yaml:"name"`
	Visible *bool  `yaml:"visible"`
	Active  *bool  `yaml:"active"`
}

type SeedStatus struct {
	Code int    `yaml:"code"`
	Name string `yaml:"name"`
}

type SeedStage struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

type SeedCustomer struct {
	Name       string `yaml:"name"`
	TradeName  string `yaml:"trade_name"`
	TaxID      string `yaml:"tax_id"`
	Phone      string `yaml:"phone"`
	Address    string `yaml:"address"`
	PostalCode string `yaml:"postal_code"`
	City       string `yaml:"city"`
}

// SeedResult counts the rows written per table.
type SeedResult struct {
	Sizes, Grades, Products, PaymentMethods, Statuses, Stages, Settings, Customers int
}

func (r SeedResult) String() string {
	return fmt.Sprintf("sizes=%d grades=%d products=%d payment_methods=%d statuses=%d stages=%d settings=%d customers=%d",
		r.Sizes, r.Grades, r.Products, r.PaymentMethods, r.Statuses, r.Stages, r.Settings, r.Customers)
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	return c, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Seed upserts the catalog in one transaction.
func (s *Store) Seed(ctx context.Context, c Catalog) (res SeedResult, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, depErr("storage.seed", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	q := func(query string) string { return rebind(s.dialect, query) }

	sizeIDs := make(map[string]int64)
	ensureSize := func(label string) (int64, error) {
		label = strings.TrimSpace(label)
		key := strings.ToUpper(label)
		if id, ok := sizeIDs[key]; ok {
			return id, nil
		}
		if _, err := tx.ExecContext(ctx, q(`INSERT INTO sizes (label) VALUES (?) ON CONFLICT (label) DO NOTHING`), label); err != nil {
			return 0, err
		}
		var id int64
		if err := tx.QueryRowContext(ctx, q(`SELECT id FROM sizes WHERE label = ?`), label).Scan(&id); err != nil {
			return 0, err
		}
		sizeIDs[key] = id
		res.Sizes++
		return id, nil
	}

	for _, l := range c.Sizes {
		if _, err = ensureSize(l); err != nil {
			return res, depErr("storage.seed.sizes", err)
		}
	}

	gradeIDs := make(map[string]int64)
	for _, g := range c.Grades {
		if _, err = tx.ExecContext(ctx, q(`INSERT INTO grades (name) VALUES (?) ON CONFLICT (name) DO NOTHING`), g.Name); err != nil {
			return res, depErr("storage.seed.grades", err)
		}
		var gid int64
		if err = tx.QueryRowContext(ctx, q(`SELECT id FROM grades WHERE name = ?`), g.Name).Scan(&gid); err != nil {
			return res, depErr("storage.seed.grades", err)
		}
		gradeIDs[g.Name] = gid
		for pos, label := range g.Sizes {
			sid, serr := ensureSize(label)
			if serr != nil {
				err = serr
				return res, depErr("storage.seed.grades", err)
			}
			if _, err = tx.ExecContext(ctx, q(
				`INSERT INTO grade_sizes (grade_id, size_id, position) VALUES (?, ?, ?)
				 ON CONFLICT (grade_id, size_id) DO UPDATE SET position = excluded.position`),
				gid, sid, pos+1); err != nil {
				return res, depErr("storage.seed.grades", err)
			}
		}
		res.Grades++
	}

	for _, p := range c.Products {
		var gradeID *int64
		if p.Grade != "" {
			gid, ok := gradeIDs[p.Grade]
			if !ok {
				if err = tx.QueryRowContext(ctx, q(`SELECT id FROM grades WHERE name = ?`), p.Grade).Scan(&gid); err != nil {
					err = fmt.Errorf("product %s: unknown grade %q: %w", p.Code, p.Grade, err)
					return res, depErr("storage.seed.products", err)
				}
			}
			gradeID = &gid
		}
		if _, err = tx.ExecContext(ctx, q(
			`INSERT INTO products (code, description, grade_id, lead_time_days, active, search_key)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (code) DO UPDATE SET description = excluded.description, grade_id = excluded.grade_id,
			   lead_time_days = excluded.lead_time_days, search_key = excluded.search_key`),
			p.Code, p.Description, gradeID, p.LeadTimeDays, true, textutil.SearchKey(p.Description, p.Code)); err != nil {
			return res, depErr("storage.seed.products", err)
		}
		res.Products++
	}

	for i, pm := range c.PaymentMethods {
		if _, err = tx.ExecContext(ctx, q(
			`INSERT INTO payment_methods (name, visible, active, position) VALUES (?, ?, ?, ?)
			 ON CONFLICT (name) DO UPDATE SET visible = excluded.visible, active = excluded.active, position = excluded.position`),
			pm.Name, boolOr(pm.Visible, true), boolOr(pm.Active, true), i+1); err != nil {
			return res, depErr("storage.seed.payment_methods", err)
		}
		res.PaymentMethods++
	}

	for _, st := range c.Statuses {
		if _, err = tx.ExecContext(ctx, q(
			`INSERT INTO order_statuses (code, name) VALUES (?, ?)
			 ON CONFLICT (code) DO UPDATE SET name = excluded.name`), st.Code, st.Name); err != nil {
			return res, depErr("storage.seed.statuses", err)
		}
		res.Statuses++
	}

	for i, st := range c.Stages {
		if _, err = tx.ExecContext(ctx, q(
			`INSERT INTO production_stages (id, name, position) VALUES (?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET name = excluded.name, position = excluded.position`),
			st.ID, st.Name, i+1); err != nil {
			return res, depErr("storage.seed.stages", err)
		}
		res.Stages++
	}

	for k, v := range c.Settings {
		if _, err = tx.ExecContext(ctx, q(
			`INSERT INTO settings (name, value) VALUES (?, ?)
			 ON CONFLICT (name) DO UPDATE SET value = excluded.value`), k, v); err != nil {
			return res, depErr("storage.seed.settings", err)
		}
		res.Settings++
	}

	for _, cu := range c.Customers {
		digits, terr := taxid.Normalize(cu.TaxID)
		if terr != nil {
			err = fmt.Errorf("customer %q: %w", cu.Name, terr)
			return res, err
		}
		var exists int
		if err = tx.QueryRowContext(ctx, q(`SELECT COUNT(*) FROM customers WHERE tax_id = ?`), digits).Scan(&exists); err != nil {
			return res, depErr("storage.seed.customers", err)
		}
		if exists > 0 {
			continue
		}
		if _, err = tx.ExecContext(ctx, q(
			`INSERT INTO customers (code, person_type, name, trade_name, tax_id, phone, address, postal_code, city, search_key)
			 SELECT COALESCE(MAX(code), 0) + 1, ?, ?, ?, ?, ?, ?, ?, ?, ? FROM customers`),
			string(taxid.PersonTypeOf(digits)), cu.Name, cu.TradeName, digits, cu.Phone, cu.Address,
			textutil.Digits(cu.PostalCode), cu.City, textutil.SearchKey(cu.Name, cu.TradeName)); err != nil {
			return res, depErr("storage.seed.customers", err)
		}
		res.Customers++
	}

	if err = tx.Commit(); err != nil {
		return res, depErr("storage.seed", err)
	}
	s.logger.Info("catalog seeded", "result", res.String())
	return res, nil
}
