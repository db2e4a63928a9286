package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"inventario/backend/internal/bootstrap"
	"inventario/backend/internal/config"
	"inventario/backend/internal/domain"
	"inventario/backend/internal/logging"
	"inventario/backend/internal/service"
)

// operator is the actor every CLI call runs as.
var operator = domain.Actor{Username: "inventoryctl", Role: "admin"}

type session struct {
	backend *bootstrap.Backend
	svc     *service.Service
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	// Logs go to stderr so stdout stays parseable.
	logger := logging.NewWithOutput(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	backend, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &session{backend: backend, svc: service.New(backend.Repo, logger)}, nil
}

// withSession opens the store for one command and closes it afterwards.
func withSession(run func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := service.WithActor(cmd.Context(), operator)
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.backend.Close()
		return run(ctx, cmd, s, args)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "inventoryctl",
		Short:         "Operate the inventory store",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `inventoryctl works directly against the store named by DATABASE_URL or
SQLITE_PATH (environment, .env file or CONFIG_FILE overlay).

Example Usage:
  inventoryctl migrate --variant legacy
  inventoryctl products list
  inventoryctl record sale --counterparty "Ana" --item "Arroz 1kg=3"
  inventoryctl reconcile sale`,
	}
	root.AddCommand(newMigrateCmd(), newProductsCmd(), newRecordCmd(), newReconcileCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	var variant string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if variant != "" {
				cfg.SchemaVariant = variant
			}
			if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
				return fmt.Errorf("DATABASE_URL or SQLITE_PATH must be set")
			}
			if err := bootstrap.Migrate(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", strings.ToLower(cfg.SchemaVariant))
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "schema variant to create: legacy or normalized (default SCHEMA_VARIANT)")
	return cmd
}

func newProductsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "products", Short: "Inspect and edit the catalog"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every product",
		RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, _ []string) error {
			products, err := s.svc.ListProducts(ctx)
			if err != nil {
				return err
			}
			return printProducts(cmd.OutOrStdout(), products)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "low-stock",
		Short: "List products at or below their minimum stock",
		RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, _ []string) error {
			products, err := s.svc.LowStock(ctx)
			if err != nil {
				return err
			}
			return printProducts(cmd.OutOrStdout(), products)
		}),
	})

	var (
		category           string
		purchasePrice      string
		salePrice          string
		stockQty, minStock int
	)
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a product",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			purchase, err := decimal.NewFromString(purchasePrice)
			if err != nil {
				return fmt.Errorf("invalid --purchase-price: %w", err)
			}
			sale, err := decimal.NewFromString(salePrice)
			if err != nil {
				return fmt.Errorf("invalid --sale-price: %w", err)
			}
			created, err := s.svc.CreateProduct(ctx, domain.Product{
				Name:          args[0],
				Category:      category,
				PurchasePrice: purchase,
				SalePrice:     sale,
				Stock:         stockQty,
				MinStock:      minStock,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), created)
		}),
	}
	add.Flags().StringVar(&category, "category", "", "product category")
	add.Flags().StringVar(&purchasePrice, "purchase-price", "0", "unit purchase price")
	add.Flags().StringVar(&salePrice, "sale-price", "0", "unit sale price")
	add.Flags().IntVar(&stockQty, "stock", 0, "initial stock")
	add.Flags().IntVar(&minStock, "min-stock", 0, "low-stock threshold")
	cmd.AddCommand(add)

	return cmd
}

func newRecordCmd() *cobra.Command {
	var (
		counterparty string
		items        []string
		status       string
	)
	cmd := &cobra.Command{
		Use:       "record sale|purchase",
		Short:     "Record a sale or purchase and move stock",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(domain.KindSale), string(domain.KindPurchase)},
		RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			req := domain.RecordRequest{Counterparty: counterparty, Status: status}
			for _, raw := range items {
				item, err := parseItemFlag(raw)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
			}

			record := s.svc.RecordSale
			if domain.Kind(args[0]) == domain.KindPurchase {
				record = s.svc.RecordPurchase
			}
			tx, err := record(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tx)
		}),
	}
	cmd.Flags().StringVar(&counterparty, "counterparty", "", "client or supplier name")
	cmd.Flags().StringArrayVar(&items, "item", nil, `line item as "NAME=QTY" (repeatable)`)
	cmd.Flags().StringVar(&status, "status", "", "sale status: completed, pending or cancelled")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "reconcile sale|purchase",
		Short:     "Recompute stored totals from current prices (legacy schema only)",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(domain.KindSale), string(domain.KindPurchase)},
		RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			report, err := s.svc.ReconcileTotals(ctx, domain.Kind(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		}),
	}
}

// parseItemFlag splits "NAME=QTY" on the last '='.
func parseItemFlag(raw string) (domain.ItemRequest, error) {
	idx := strings.LastIndex(raw, "=")
	if idx <= 0 {
		return domain.ItemRequest{}, fmt.Errorf("item %q must look like NAME=QTY", raw)
	}
	qty, err := strconv.Atoi(strings.TrimSpace(raw[idx+1:]))
	if err != nil {
		return domain.ItemRequest{}, fmt.Errorf("item %q: invalid quantity: %w", raw, err)
	}
	return domain.ItemRequest{Product: strings.TrimSpace(raw[:idx]), Quantity: qty}, nil
}

func printProducts(out io.Writer, products []domain.Product) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tPURCHASE\tSALE\tSTOCK\tMIN")
	for _, p := range products {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\n", p.ID, p.Name, p.Category,
			p.PurchasePrice.StringFixed(2), p.SalePrice.StringFixed(2), p.Stock, p.MinStock)
	}
	return w.Flush()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
