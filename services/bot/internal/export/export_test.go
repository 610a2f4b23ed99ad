package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"bookshopbot/pkg/domain"
	"bookshopbot/pkg/storage"
	"bookshopbot/pkg/store"
)

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	tg := int64(4242)
	user, err := st.CreateUser(domain.NewUser{TelegramID: &tg, Role: domain.RoleUser, FirstName: "Ann", LastName: "Lee", Email: "ann@example.com", Phone: "+100"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := st.CreateUser(domain.NewUser{Role: domain.RoleAdmin, FirstName: "Bo", Email: "bo@example.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	book, _, err := st.CreateBookIfAbsent(domain.NewBook{Title: "Emma", Author: "Jane Austen", Genre: "Romance", Catalog: "Romance", Price: decimal.RequireFromString("150.5")})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	item, err := st.UpsertOrderItem(user.ID, book.ID, 2, book.Price)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := st.CommitCheckout(item.OrderID, decimal.RequireFromString("301"), time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return st
}

func newExporter(t *testing.T, st store.Store) (*Exporter, *storage.FileStore) {
	t.Helper()
	objects, err := storage.NewFileStore(filepath.Join(t.TempDir(), "objects"))
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	e, err := New(st, objects, filepath.Join(t.TempDir(), "work"))
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	e.now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }
	return e, objects
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}

func TestExportCSV(t *testing.T) {
	e, objects := newExporter(t, seededStore(t))
	res, err := e.Export(context.Background(), FormatCSV)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(res.Artifacts) != 4 || res.Users != 2 || res.Items != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	names := []string{"users.csv", "books.csv", "orders.csv", "order_items.csv"}
	for i, a := range res.Artifacts {
		if a.Name != names[i] {
			t.Fatalf("artifact %d named %q", i, a.Name)
		}
	}

	users := readCSV(t, res.Artifacts[0].Path)
	if strings.Join(users[0], ",") != "ID,Telegram ID,Role,First name,Last name,Email,Phone" {
		t.Fatalf("unexpected header %v", users[0])
	}
	if len(users) != 3 || users[1][1] != "4242" || users[2][1] != "" {
		t.Fatalf("unexpected user rows %v", users)
	}
	orders := readCSV(t, res.Artifacts[2].Path)
	if orders[1][2] != "completed" || orders[1][3] != "2026-03-04 05:06:07" || orders[1][4] != "301.00" {
		t.Fatalf("unexpected order row %v", orders[1])
	}
	items := readCSV(t, res.Artifacts[3].Path)
	if items[1][3] != "2" || items[1][4] != "150.50" {
		t.Fatalf("unexpected item row %v", items[1])
	}

	stored, err := objects.List(context.Background(), "exports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 4 || res.Artifacts[0].Key != "exports/20260506_070809/users.csv" {
		t.Fatalf("unexpected uploads %+v key=%q", stored, res.Artifacts[0].Key)
	}
	summary := res.Summary()
	if !strings.HasPrefix(summary, "Rows: 2 users, 1 books, 1 orders, 1 order items.") || !strings.Contains(summary, "users.csv: file://") {
		t.Fatalf("unexpected summary %q", summary)
	}
}

func TestExportExcel(t *testing.T) {
	e, _ := newExporter(t, seededStore(t))
	res, err := e.Export(context.Background(), FormatExcel)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Name != "bookshop_export_20260506_070809.xlsx" {
		t.Fatalf("unexpected artifacts %+v", res.Artifacts)
	}
	f, err := excelize.OpenFile(res.Artifacts[0].Path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	if got := strings.Join(f.GetSheetList(), "|"); got != "Users|Books|Orders|Order items" {
		t.Fatalf("unexpected sheets %s", got)
	}
	rows, err := f.GetRows("Books")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 || rows[0][1] != "Title" || rows[1][1] != "Emma" || rows[1][5] != "Romance" {
		t.Fatalf("unexpected book rows %v", rows)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	e, _ := newExporter(t, store.NewMemoryStore())
	if _, err := e.Export(context.Background(), Format("pdf")); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestDiscardRemovesFiles(t *testing.T) {
	e, _ := newExporter(t, seededStore(t))
	res, err := e.Export(context.Background(), FormatCSV)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	Discard(res.Artifacts)
	for _, a := range res.Artifacts {
		if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
			t.Fatalf("%s still present", a.Path)
		}
	}
}
