package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/security"
)

// RootOptions は全コマンド共通のフラグ。
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json"
}

// NewRootCommand はstorefrontのルートコマンドを生成する。
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Storefront client",
		Long:          "ストアAPIのセッション・カート・チェックアウトを操作するクライアント。serveでローカルのビューサーバーを起動する。",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (text|json)")

	cmd.AddCommand(
		newServeCommand(opts),
		newLoginCommand(opts),
		newRegisterCommand(opts),
		newLogoutCommand(opts),
		newWhoamiCommand(opts),
		newProductsCommand(opts),
		newProductCommand(opts),
		newCartCommand(opts),
		newAddCommand(opts),
		newRemoveCommand(opts),
		newCheckoutCommand(opts),
		newOrdersCommand(opts),
		newDownloadCommand(opts),
		newContactCommand(opts),
		newAdminCommand(opts),
		newMigrateCommand(opts),
		newHealthcheckCommand(),
	)

	return cmd
}

// withServices は初期化・ワイヤリング・セッション復元を行ってからfnを実行するRunEを返す。
// セッションの復元はコマンドごとに1回だけ行う。
func withServices(opts *RootOptions, fn func(ctx context.Context, s *services, p *printer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := Init(cmd.ErrOrStderr(), opts.Verbose)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}

		ctx := cmd.Context()
		s, err := newServices(ctx, cfg, slog.Default())
		if err != nil {
			return err
		}
		defer s.Close()

		s.restore(ctx)
		return fn(ctx, s, &printer{format: opts.Format, w: cmd.OutOrStdout()}, args)
	}
}

func newServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "ローカルのビューサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: withServices(opts, func(ctx context.Context, s *services, _ *printer, _ []string) error {
			return runServe(ctx, s)
		}),
	}
}

func newLoginCommand(opts *RootOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "メールアドレスとパスワードでログインする",
		Args:  cobra.NoArgs,
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, _ []string) error {
			if password == "" {
				password = os.Getenv("STOREFRONT_PASSWORD")
			}
			if err := s.sessions.Login(ctx, email, password); err != nil {
				return err
			}
			return printSession(p, s.sessions.Snapshot())
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (defaults to $STOREFRONT_PASSWORD)")
	return cmd
}

func newRegisterCommand(opts *RootOptions) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "アカウントを登録してログインする",
		Args:  cobra.NoArgs,
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, _ []string) error {
			if password == "" {
				password = os.Getenv("STOREFRONT_PASSWORD")
			}
			if err := s.sessions.Register(ctx, name, email, password); err != nil {
				return err
			}
			return printSession(p, s.sessions.Snapshot())
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (defaults to $STOREFRONT_PASSWORD)")
	return cmd
}

func newLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "ログアウトして保存済みトークンを削除する",
		Args:  cobra.NoArgs,
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, _ []string) error {
			if err := s.sessions.Logout(ctx); err != nil {
				return err
			}
			return p.print(map[string]bool{"authenticated": false}, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ログアウトしました。")
			})
		}),
	}
}

func newWhoamiCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "ログイン中のユーザーを表示する",
		Args:  cobra.NoArgs,
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, _ []string) error {
			snap := s.sessions.Snapshot()
			if !snap.Authenticated() {
				return model.NewUnauthenticatedError()
			}
			return printSession(p, snap)
		}),
	}
}

func printSession(p *printer, snap model.Session) error {
	out := toUserOutput(snap)
	return p.print(out, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "ID:\t%s\n", out.ID)
		fmt.Fprintf(tw, "Name:\t%s\n", out.Name)
		fmt.Fprintf(tw, "Email:\t%s\n", out.Email)
		if out.ExpiresAt != nil {
			fmt.Fprintf(tw, "Expires:\t%s\n", out.ExpiresAt.Local().Format("2006-01-02 15:04"))
		}
	})
}

func newProductsCommand(opts *RootOptions) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "products",
		Short: "販売中の商品を一覧表示する",
		Args:  cobra.NoArgs,
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, _ []string) error {
			products, err := s.client.ListProducts(ctx, category)
			if err != nil {
				return err
			}
			out := make([]productOutput, 0, len(products))
			for _, prod := range products {
				if prod.IsActive {
					out = append(out, toProductOutput(prod, ""))
				}
			}
			return p.print(out, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tTITLE\tPRICE\tCATEGORY")
				for _, o := range out {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.ID, o.Title, o.Price, o.Category)
				}
			})
		}),
	}
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	return cmd
}

func newProductCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "product <product-id>",
		Short: "商品の詳細を表示する",
		Args:  cobra.ExactArgs(1),
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, args []string) error {
			prod, err := s.client.GetProduct(ctx, args[0])
			if err != nil {
				return err
			}
			// 端末表示のため、説明文はタグを除いたテキストにする
			out := toProductOutput(prod, security.NewDescriptionSanitizer().PlainText(prod.Description))
			return p.print(out, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "ID:\t%s\n", out.ID)
				fmt.Fprintf(tw, "Title:\t%s\n", out.Title)
				fmt.Fprintf(tw, "Price:\t%s\n", out.Price)
				fmt.Fprintf(tw, "Category:\t%s\n", out.Category)
				fmt.Fprintf(tw, "\n%s\n", out.Description)
			})
		}),
	}
}

func newCartCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cart",
		Short: "カートの内容を表示する",
		Args:  cobra.NoArgs,
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, _ []string) error {
			if err := s.cart.Fetch(ctx); err != nil {
				return err
			}
			return printCart(p, s)
		}),
	}
}

func newAddCommand(opts *RootOptions) *cobra.Command {
	var quantity int
	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "商品をカートに追加する",
		Args:  cobra.ExactArgs(1),
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, args []string) error {
			if err := s.cart.Add(ctx, args[0], quantity); err != nil {
				return err
			}
			return printCart(p, s)
		}),
	}
	cmd.Flags().IntVarP(&quantity, "quantity", "q", 1, "quantity to add")
	return cmd
}

func newRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <product-id>",
		Short: "商品をカートから削除する",
		Args:  cobra.ExactArgs(1),
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, args []string) error {
			if err := s.cart.Remove(ctx, args[0]); err != nil {
				return err
			}
			return printCart(p, s)
		}),
	}
}

func printCart(p *printer, s *services) error {
	out := toCartOutput(s.cart.Snapshot())
	return p.print(out, func(tw *tabwriter.Writer) {
		if len(out.Items) == 0 {
			fmt.Fprintln(tw, "カートは空です。")
			return
		}
		fmt.Fprintln(tw, "PRODUCT\tTITLE\tQTY\tPRICE")
		for _, line := range out.Items {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", line.ProductID, line.Title, line.Quantity, line.Price)
		}
		fmt.Fprintf(tw, "合計点数:\t%d\n", out.ItemCount)
		if out.Stale {
			fmt.Fprintln(tw, "※ カートの再取得に失敗したため、表示が古い可能性があります。")
		}
	})
}

func newCheckoutCommand(opts *RootOptions) *cobra.Command {
	var provider, paymentRef string
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "カートの内容で注文し、支払いを確定する",
		Args:  cobra.NoArgs,
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, _ []string) error {
			prov, err := s.providerFor(provider, paymentRef)
			if err != nil {
				return err
			}
			// 復元時の取得に失敗していても、サーバーのカートで前提条件を判定する
			if err := s.cart.Fetch(ctx); err != nil {
				return err
			}
			attempt, err := s.checkout.Checkout(ctx, prov)
			if err != nil {
				return err
			}
			out := toAttemptOutput(attempt)
			return p.print(out, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Attempt:\t%s\n", out.AttemptID)
				fmt.Fprintf(tw, "State:\t%s\n", out.State)
				if out.Order != nil {
					fmt.Fprintf(tw, "Order:\t%s\n", out.Order.ID)
					fmt.Fprintf(tw, "Total:\t%s\n", out.Order.TotalAmount)
				}
			})
		}),
	}
	cmd.Flags().StringVar(&provider, "provider", "", "payment provider (defaults to $PAYMENT_PROVIDER)")
	cmd.Flags().StringVar(&paymentRef, "payment-ref", "", "provider-issued payment reference")
	return cmd
}

func newOrdersCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "orders [order-id]",
		Short: "注文履歴、または指定した注文を表示する",
		Args:  cobra.MaximumNArgs(1),
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, args []string) error {
			if len(args) == 1 {
				order, err := s.checkout.LookupOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printOrders(p, []orderOutput{toOrderOutput(order)})
			}
			orders, err := s.checkout.OrderHistory(ctx)
			if err != nil {
				return err
			}
			out := make([]orderOutput, 0, len(orders))
			for _, o := range orders {
				out = append(out, toOrderOutput(o))
			}
			return printOrders(p, out)
		}),
	}
}

func printOrders(p *printer, out []orderOutput) error {
	return p.print(out, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tSTATUS\tTOTAL\tITEMS")
		for _, o := range out {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", o.ID, o.Status, o.TotalAmount, o.ItemCount)
		}
	})
}

func newDownloadCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "download <order-id>",
		Short: "完了した注文のファイルをダウンロードする",
		Args:  cobra.ExactArgs(1),
		RunE: withServices(opts, func(ctx context.Context, s *services, p *printer, args []string) error {
			order, err := s.checkout.LookupOrder(ctx, args[0])
			if err != nil {
				return err
			}
			results, fetchErr := s.downloader.Fetch(ctx, order)
			out := toDownloadOutputs(results)
			if len(out) > 0 {
				if err := p.print(out, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "PRODUCT\tPATH\tBYTES")
					for _, r := range out {
						fmt.Fprintf(tw, "%s\t%s\t%d\n", r.ProductID, r.Path, r.Bytes)
					}
				}); err != nil {
					return err
				}
			}
			return fetchErr
		}),
	}
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "トークン保存用のデータベースマイグレーションを実行する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(cmd.ErrOrStderr(), opts.Verbose)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg)
		},
	}
}

// newHealthcheckCommand は軽量サブコマンドのため、設定の読み込みを行わない。
func newHealthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "ビューサーバーのヘルスチェックを行う",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := os.Getenv("VIEW_PORT")
			if port == "" {
				port = "8081"
			}
			return runHealthcheck(cmd.Context(), port)
		},
	}
}
