package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/hitoshi/storefront/internal/admin"
	"github.com/hitoshi/storefront/internal/model"
)

// newAdminCommand は管理者向けサブコマンドをまとめる。
func newAdminCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "管理者向けの操作（集計・商品登録・ファイル添付）",
	}
	cmd.AddCommand(
		newAdminStatsCommand(opts),
		newAdminProductsCommand(opts),
		newAdminOrdersCommand(opts),
		newAdminCreateProductCommand(opts),
		newAdminUploadCommand(opts),
	)
	return cmd
}

func newAdminStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "ストア全体の集計を表示する",
		Args:  cobra.NoArgs,
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, _ []string) error {
			stats, err := s.admin.Stats(ctx)
			if err != nil {
				return err
			}
			out := toStatsOutput(stats)
			return p.print(out, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Products:\t%d\n", out.TotalProducts)
				fmt.Fprintf(tw, "Orders:\t%d\n", out.TotalOrders)
				fmt.Fprintf(tw, "Users:\t%d\n", out.TotalUsers)
				fmt.Fprintf(tw, "Revenue:\t%s\n", out.TotalRevenue)
			})
		}),
	}
}

func newAdminProductsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "非公開を含む全商品を表示する",
		Args:  cobra.NoArgs,
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, _ []string) error {
			products, err := s.admin.Products(ctx)
			if err != nil {
				return err
			}
			out := make([]adminProductOutput, 0, len(products))
			for _, prod := range products {
				out = append(out, toAdminProductOutput(prod))
			}
			return p.print(out, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tTITLE\tPRICE\tCATEGORY\tDOWNLOADS\tSTATUS")
				for _, o := range out {
					status := "active"
					if !o.IsActive {
						status = "inactive"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", o.ID, o.Title, o.Price, o.Category, o.Downloads, status)
				}
			})
		}),
	}
}

func newAdminOrdersCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "全ユーザーの注文を表示する",
		Args:  cobra.NoArgs,
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, _ []string) error {
			orders, err := s.admin.Orders(ctx)
			if err != nil {
				return err
			}
			out := make([]orderOutput, 0, len(orders))
			for _, o := range orders {
				out = append(out, toOrderOutput(o))
			}
			revenue := admin.Revenue(orders).StringFixed(2)
			return p.print(out, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tSTATUS\tTOTAL\tITEMS")
				for _, o := range out {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", o.ID, o.Status, o.TotalAmount, o.ItemCount)
				}
				fmt.Fprintf(tw, "完了済み合計:\t%s\n", revenue)
			})
		}),
	}
}

func newAdminCreateProductCommand(opts *RootOptions) *cobra.Command {
	var title, description, category, price string
	cmd := &cobra.Command{
		Use:   "create-product",
		Short: "商品を登録する",
		Args:  cobra.NoArgs,
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, _ []string) error {
			amount, err := decimal.NewFromString(price)
			if err != nil {
				return model.NewValidationError("price", "数値で指定してください")
			}
			created, err := s.admin.CreateProduct(ctx, model.NewProduct{
				Title:       title,
				Description: description,
				Category:    category,
				Price:       amount,
			})
			if err != nil {
				return err
			}
			out := toAdminProductOutput(created)
			return p.print(out, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "ID:\t%s\n", out.ID)
				fmt.Fprintf(tw, "Title:\t%s\n", out.Title)
				fmt.Fprintf(tw, "Price:\t%s\n", out.Price)
				fmt.Fprintf(tw, "Category:\t%s\n", out.Category)
			})
		}),
	}
	cmd.Flags().StringVar(&title, "title", "", "product title")
	cmd.Flags().StringVar(&description, "description", "", "product description")
	cmd.Flags().StringVar(&category, "category", "", "product category")
	cmd.Flags().StringVar(&price, "price", "", "price (e.g. 9.99)")
	return cmd
}

func newAdminUploadCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <product-id> <ebook|cover> <file>",
		Short: "商品に電子書籍または表紙画像を添付する",
		Args:  cobra.ExactArgs(3),
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, args []string) error {
			productID, kind, path := args[0], model.UploadKind(args[1]), args[2]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer f.Close()

			if err := s.admin.Upload(ctx, productID, kind, filepath.Base(path), f); err != nil {
				return err
			}
			out := map[string]string{"product_id": productID, "kind": string(kind), "file": filepath.Base(path)}
			return p.print(out, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "%s に %s を添付しました。\n", productID, filepath.Base(path))
			})
		}),
	}
}

func newContactCommand(opts *RootOptions) *cobra.Command {
	var msg model.ContactMessage
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "ストアにお問い合わせを送信する",
		Args:  cobra.NoArgs,
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, _ []string) error {
			if err := s.contact.Submit(ctx, msg); err != nil {
				return err
			}
			return p.print(map[string]bool{"sent": true}, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "お問い合わせを送信しました。")
			})
		}),
	}
	cmd.Flags().StringVar(&msg.Name, "name", "", "your name (defaults to the logged-in user)")
	cmd.Flags().StringVar(&msg.Email, "email", "", "reply-to email (defaults to the logged-in user)")
	cmd.Flags().StringVar(&msg.Subject, "subject", "", "subject")
	cmd.Flags().StringVar(&msg.Message, "message", "", "message body")
	return cmd
}
