package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"inkwell/internal/api"
)

func newPricingCommand(ctx *commandContext) *cobra.Command {
	pricingCmd := &cobra.Command{
		Use:   "pricing",
		Short: "Inspect and steer lifecycle pricing",
	}

	pricingCmd.AddCommand(newPricingShowCommand(ctx))
	pricingCmd.AddCommand(newPricingSweepCommand(ctx))
	pricingCmd.AddCommand(newPricingSetPhaseCommand(ctx))
	pricingCmd.AddCommand(newPricingPromoteCommand(ctx))
	pricingCmd.AddCommand(newPricingSettingsCommand(ctx))
	pricingCmd.AddCommand(newPricingReviewsCommand(ctx))

	return pricingCmd
}

func newPricingShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <book-id>",
		Short: "Show the pricing strategy and price history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				p, err := svc.Pricing(cmd.Context(), id)
				if err != nil {
					return err
				}
				return reportPricing(ctx, cmd, p)
			})
		},
	}
}

func reportPricing(ctx *commandContext, cmd *cobra.Command, p api.Pricing) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, p)
	}
	printPricing(cmd.OutOrStdout(), p)
	return nil
}

func printPricing(out io.Writer, p api.Pricing) {
	pairs := [][2]string{
		{"Book", strconv.FormatInt(p.BookID, 10)},
		{"Phase", statusLabel(p.Phase)},
		{"Price", formatPrice(p.CurrentPrice)},
		{"Auto price", yesNo(p.AutoPriceEnabled)},
		{"Promotions", yesNo(p.PromotionEligible)},
		{"Growth at", fmt.Sprintf("%d reviews", p.ReviewsThresholdForGrowth)},
		{"Launch days", strconv.Itoa(p.DaysInLaunchPhase)},
		{"Promo gap", fmt.Sprintf("%d days", p.DaysBetweenPromotions)},
	}
	if p.LastPromotionDate != "" {
		pairs = append(pairs, [2]string{"Last promo", formatWhen(p.LastPromotionDate)})
	}
	if p.NextPromotionDate != "" {
		pairs = append(pairs, [2]string{"Next promo", formatWhen(p.NextPromotionDate)})
	}
	if p.PromotionType != "" {
		pairs = append(pairs, [2]string{"Promo type", p.PromotionType})
	}
	fmt.Fprint(out, renderKeyValues(pairs))
	if len(p.History) == 0 {
		return
	}
	rows := make([][]string, 0, len(p.History))
	for _, h := range p.History {
		rows = append(rows, []string{h.ChangedAt, statusLabel(h.Phase), formatPrice(h.Price), h.Reason})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Changed", "Phase", "Price", "Reason"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func newPricingSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "sweep [daily|weekly]",
		Short:     "Run a pricing sweep now",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{api.SweepDaily, api.SweepWeekly},
		RunE: func(cmd *cobra.Command, args []string) error {
			sweep := api.SweepDaily
			if len(args) == 1 {
				sweep = strings.ToLower(strings.TrimSpace(args[0]))
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				result, err := svc.RunPricingSweep(cmd.Context(), sweep)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s sweep: %d checked, %d transitions, %d scheduled, %d skipped, %d failed\n",
					statusLabel(result.Sweep), result.Checked, result.Transitions, result.Scheduled, result.Skipped, result.Failed)
				return nil
			})
		},
	}
}

func newPricingSetPhaseCommand(ctx *commandContext) *cobra.Command {
	var price float64
	var reason string
	cmd := &cobra.Command{
		Use:   "set-phase <book-id> <launch|growth|mature|promo>",
		Short: "Override the pricing phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			phase := strings.ToLower(strings.TrimSpace(args[1]))
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				p, err := svc.SetPricePhase(cmd.Context(), id, phase, price, reason)
				if err != nil {
					return err
				}
				return reportPricing(ctx, cmd, p)
			})
		},
	}
	cmd.Flags().Float64Var(&price, "price", 0, "Price to apply (default: configured price for the phase)")
	cmd.Flags().StringVar(&reason, "reason", "Manual override", "Reason recorded in the price history")
	return cmd
}

func newPricingPromoteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <book-id>",
		Short: "Start a promotion for a mature book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				p, err := svc.StartPromotion(cmd.Context(), id)
				if err != nil {
					return err
				}
				return reportPricing(ctx, cmd, p)
			})
		},
	}
}

func newPricingSettingsCommand(ctx *commandContext) *cobra.Command {
	var (
		autoPrice, promotionEligible               bool
		reviewsThreshold, launchDays, promoGapDays int
	)
	cmd := &cobra.Command{
		Use:   "settings <book-id>",
		Short: "Change pricing automation settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			var settings api.PricingSettings
			if flags.Changed("auto-price") {
				settings.AutoPriceEnabled = &autoPrice
			}
			if flags.Changed("promotion-eligible") {
				settings.PromotionEligible = &promotionEligible
			}
			if flags.Changed("reviews-threshold") {
				settings.ReviewsThresholdForGrowth = &reviewsThreshold
			}
			if flags.Changed("launch-days") {
				settings.DaysInLaunchPhase = &launchDays
			}
			if flags.Changed("promotion-gap-days") {
				settings.DaysBetweenPromotions = &promoGapDays
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				p, err := svc.UpdatePricingSettings(cmd.Context(), id, settings)
				if err != nil {
					return err
				}
				return reportPricing(ctx, cmd, p)
			})
		},
	}
	cmd.Flags().BoolVar(&autoPrice, "auto-price", true, "Let sweeps change the price automatically")
	cmd.Flags().BoolVar(&promotionEligible, "promotion-eligible", true, "Allow weekly promotion scheduling")
	cmd.Flags().IntVar(&reviewsThreshold, "reviews-threshold", 0, "Reviews required to leave launch")
	cmd.Flags().IntVar(&launchDays, "launch-days", 0, "Days spent in launch")
	cmd.Flags().IntVar(&promoGapDays, "promotion-gap-days", 0, "Minimum days between promotions")
	return cmd
}

func newPricingReviewsCommand(ctx *commandContext) *cobra.Command {
	var total int
	var rating float64
	cmd := &cobra.Command{
		Use:   "reviews <book-id>",
		Short: "Record review totals used by the growth transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(svc bookAPI) error {
				if err := svc.RecordReviews(cmd.Context(), id, total, rating); err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"bookId": id, "totalReviews": total, "averageRating": rating})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Book %d: %s reviews, %.1f average\n", id, formatCount(total), rating)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&total, "total", 0, "Total review count")
	cmd.Flags().Float64Var(&rating, "rating", 0, "Average rating")
	_ = cmd.MarkFlagRequired("total")
	return cmd
}
