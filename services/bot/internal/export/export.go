package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"bookshopbot/internal/util"
	"bookshopbot/pkg/domain"
	"bookshopbot/pkg/storage"
	"bookshopbot/pkg/store"
)

type Format string

const (
	FormatExcel Format = "excel"
	FormatCSV   Format = "csv"
)

// Label is the human name of the format.
func (f Format) Label() string {
	if f == FormatCSV {
		return "CSV"
	}
	return "Excel"
}

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	csvContentType  = "text/csv"
	objectPrefix    = "exports"
	timestampLayout = "20060102_150405"
	linkTTL         = 7 * 24 * time.Hour
)

// Artifact is a rendered file on local disk. Name is the file name shown
// to the recipient. Key and URL are set once a copy is in object storage.
type Artifact struct {
	Path string
	Name string
	Key  string
	URL  string
}

// Result describes one export run.
type Result struct {
	Format    Format
	Artifacts []Artifact
	Users     int
	Books     int
	Orders    int
	Items     int
}

func (r Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rows: %d users, %d books, %d orders, %d order items.", r.Users, r.Books, r.Orders, r.Items)
	for _, a := range r.Artifacts {
		if a.URL != "" {
			fmt.Fprintf(&b, "\n%s: %s", a.Name, a.URL)
		}
	}
	return b.String()
}

// Exporter renders the store into spreadsheets. Rendered files are kept in
// dir until the caller delivers them; copies go to the object store when
// one is configured.
type Exporter struct {
	store   store.Store
	objects storage.ObjectStore
	dir     string
	now     func() time.Time
}

func New(st store.Store, objects storage.ObjectStore, dir string) (*Exporter, error) {
	if st == nil {
		return nil, errors.New("export: store required")
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create dir: %w", err)
	}
	return &Exporter{store: st, objects: objects, dir: dir, now: time.Now}, nil
}

type snapshot struct {
	users  []domain.User
	books  []domain.Book
	orders []domain.Order
	items  []domain.OrderItem
}

func (e *Exporter) load() (snapshot, error) {
	var (
		s snapshot
		g errgroup.Group
	)
	g.Go(func() (err error) {
		s.users, err = e.store.ListUsers()
		return err
	})
	g.Go(func() (err error) {
		s.books, err = e.store.ListBooks()
		return err
	})
	g.Go(func() (err error) {
		s.orders, err = e.store.ListOrders()
		return err
	})
	g.Go(func() (err error) {
		s.items, err = e.store.ListOrderItems()
		return err
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, fmt.Errorf("load export data: %w", err)
	}
	return s, nil
}

type table struct {
	sheet  string
	file   string
	header []string
	rows   [][]any
}

func tables(s snapshot) []table {
	users := table{sheet: "Users", file: "users.csv", header: []string{"ID", "Telegram ID", "Role", "First name", "Last name", "Email", "Phone"}}
	for _, u := range s.users {
		var tg any = ""
		if u.TelegramID != nil {
			tg = *u.TelegramID
		}
		users.rows = append(users.rows, []any{u.ID, tg, string(u.Role), u.FirstName, u.LastName, u.Email, u.Phone})
	}
	books := table{sheet: "Books", file: "books.csv", header: []string{"ID", "Title", "Author", "Genre", "Description", "Catalog", "Price"}}
	for _, b := range s.books {
		books.rows = append(books.rows, []any{b.ID, b.Title, b.Author, b.Genre, b.Description, b.Catalog, b.Price})
	}
	orders := table{sheet: "Orders", file: "orders.csv", header: []string{"ID", "User ID", "Status", "Order date", "Total price"}}
	for _, o := range s.orders {
		date := ""
		if o.OrderDate != nil {
			date = o.OrderDate.UTC().Format(time.DateTime)
		}
		orders.rows = append(orders.rows, []any{o.ID, o.UserID, string(o.Status), date, o.TotalPrice})
	}
	items := table{sheet: "Order items", file: "order_items.csv", header: []string{"ID", "Order ID", "Book ID", "Quantity", "Price at order"}}
	for _, it := range s.items {
		items.rows = append(items.rows, []any{it.ID, it.OrderID, it.BookID, it.Quantity, it.PriceAtOrder})
	}
	return []table{users, books, orders, items}
}

// Export loads every table and renders it in format.
func (e *Exporter) Export(ctx context.Context, format Format) (Result, error) {
	logger := util.LoggerFromContext(ctx).With("format", string(format))
	snap, err := e.load()
	if err != nil {
		return Result{}, err
	}
	res := Result{Format: format, Users: len(snap.users), Books: len(snap.books), Orders: len(snap.orders), Items: len(snap.items)}
	stamp := e.now().UTC().Format(timestampLayout)
	switch format {
	case FormatExcel:
		a, err := e.writeWorkbook(tables(snap), stamp)
		if err != nil {
			return Result{}, err
		}
		res.Artifacts = []Artifact{a}
	case FormatCSV:
		res.Artifacts, err = e.writeCSV(tables(snap), stamp)
		if err != nil {
			return Result{}, err
		}
	default:
		return Result{}, fmt.Errorf("unsupported export format %q", format)
	}
	if err := e.upload(ctx, res.Artifacts, stamp, format); err != nil {
		Discard(res.Artifacts)
		return Result{}, err
	}
	logger.Info("export finished", "files", len(res.Artifacts), "users", res.Users, "books", res.Books, "orders", res.Orders)
	return res, nil
}

func (e *Exporter) writeWorkbook(tabs []table, stamp string) (Artifact, error) {
	f := excelize.NewFile()
	defer f.Close()
	for i, t := range tabs {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", t.sheet); err != nil {
				return Artifact{}, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(t.sheet); err != nil {
			return Artifact{}, fmt.Errorf("add sheet %s: %w", t.sheet, err)
		}
		header := make([]any, len(t.header))
		for j, h := range t.header {
			header[j] = h
		}
		if err := f.SetSheetRow(t.sheet, "A1", &header); err != nil {
			return Artifact{}, fmt.Errorf("write %s header: %w", t.sheet, err)
		}
		for r, row := range t.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return Artifact{}, err
			}
			values := make([]any, len(row))
			for j, v := range row {
				values[j] = excelValue(v)
			}
			if err := f.SetSheetRow(t.sheet, cell, &values); err != nil {
				return Artifact{}, fmt.Errorf("write %s row %d: %w", t.sheet, r+1, err)
			}
		}
	}
	name := "bookshop_export_" + stamp + ".xlsx"
	target := filepath.Join(e.dir, name)
	if err := f.SaveAs(target); err != nil {
		return Artifact{}, fmt.Errorf("save workbook: %w", err)
	}
	return Artifact{Path: target, Name: name}, nil
}

func (e *Exporter) writeCSV(tabs []table, stamp string) ([]Artifact, error) {
	out := make([]Artifact, 0, len(tabs))
	for _, t := range tabs {
		target := filepath.Join(e.dir, stamp+"_"+t.file)
		if err := writeCSVFile(target, t); err != nil {
			Discard(out)
			return nil, fmt.Errorf("write %s: %w", t.file, err)
		}
		out = append(out, Artifact{Path: target, Name: t.file})
	}
	return out, nil
}

func writeCSVFile(target string, t table) error {
	file, err := os.Create(target)
	if err != nil {
		return err
	}
	w := csv.NewWriter(file)
	_ = w.Write(t.header)
	for _, row := range t.rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = csvValue(v)
		}
		_ = w.Write(record)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (e *Exporter) upload(ctx context.Context, artifacts []Artifact, stamp string, format Format) error {
	if e.objects == nil {
		return nil
	}
	contentType := xlsxContentType
	if format == FormatCSV {
		contentType = csvContentType
	}
	for i := range artifacts {
		key := path.Join(objectPrefix, stamp, artifacts[i].Name)
		if err := putFile(ctx, e.objects, key, artifacts[i].Path, contentType); err != nil {
			return fmt.Errorf("upload %s: %w", artifacts[i].Name, err)
		}
		artifacts[i].Key = key
		link, err := e.objects.PresignGet(ctx, key, linkTTL)
		if err != nil {
			util.LoggerFromContext(ctx).Warn("presign export failed", "key", key, "err", err)
			continue
		}
		artifacts[i].URL = link
	}
	return nil
}

func putFile(ctx context.Context, objects storage.ObjectStore, key, src, contentType string) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}
	return objects.Put(ctx, key, file, info.Size(), contentType)
}

// Discard removes rendered files that will not be delivered.
func Discard(artifacts []Artifact) {
	for _, a := range artifacts {
		_ = os.Remove(a.Path)
	}
}

func excelValue(v any) any {
	if d, ok := v.(decimal.Decimal); ok {
		return d.Round(2).InexactFloat64()
	}
	return v
}

func csvValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case decimal.Decimal:
		return x.StringFixed(2)
	default:
		return fmt.Sprint(x)
	}
}
