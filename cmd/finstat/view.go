package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"finstat/internal/model"
	"finstat/internal/store"
)

var views = map[string]func(ctx context.Context, a *app, f viewFilter, w *tabwriter.Writer) error{
	"summary":    viewSummary,
	"banks":      viewBanks,
	"forms":      viewForms,
	"periods":    viewPeriods,
	"log":        viewLog,
	"raw":        viewRaw,
	"indicators": viewIndicators,
}

type viewFilter struct {
	bank   string
	form   string
	period model.Period
	limit  int
}

// cmdView prints stored data as aligned text. The first argument selects
// what to show; flags follow it.
func cmdView(ctx context.Context, a *app, args []string) error {
	what := "summary"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		what, args = args[0], args[1:]
	}
	show, ok := views[what]
	if !ok {
		return fmt.Errorf("unknown view %q (summary|banks|forms|periods|log|raw|indicators)", what)
	}

	fs := newFlagSet(a, "view "+what)
	bank := fs.String("bank", "", "bank id")
	form := fs.String("form", "", "form code")
	periodFlag := fs.String("period", "", "month (YYYY-MM)")
	limit := fs.Int("limit", 50, "max rows (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	period, err := parsePeriodFlag(*periodFlag)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	if err := show(ctx, a, viewFilter{bank: *bank, form: *form, period: period, limit: *limit}, w); err != nil {
		return err
	}
	return w.Flush()
}

func formatValue(v *float64) string {
	if v == nil {
		return "NULL"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func viewSummary(ctx context.Context, a *app, _ viewFilter, w *tabwriter.Writer) error {
	s, err := a.st.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "banks\t%d\n", s.Banks)
	fmt.Fprintf(w, "forms\t%d\n", s.Forms)
	fmt.Fprintf(w, "periods\t%d\n", s.Periods)
	fmt.Fprintf(w, "raw values\t%d\n", s.RawValues)
	fmt.Fprintf(w, "indicator values\t%d\n", s.IndicatorValues)
	fmt.Fprintf(w, "classifications\t%d\n", s.Classifications)
	fmt.Fprintf(w, "ai classifications\t%d\n", s.AIClassified)
	return nil
}

func viewBanks(ctx context.Context, a *app, f viewFilter, w *tabwriter.Writer) error {
	banks, err := a.st.ListBanks(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "BANK\tNAME")
	for i, b := range banks {
		if f.limit > 0 && i >= f.limit {
			break
		}
		fmt.Fprintf(w, "%s\t%s\n", b.ID, b.Name)
	}
	return nil
}

func viewForms(ctx context.Context, a *app, _ viewFilter, w *tabwriter.Writer) error {
	forms, err := a.st.ListForms(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "FORM\tBANKS\tPERIODS\tROWS")
	for _, fs := range forms {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", fs.FormCode, fs.Banks, fs.Periods, fs.Rows)
	}
	return nil
}

func viewPeriods(ctx context.Context, a *app, _ viewFilter, w *tabwriter.Writer) error {
	periods, err := a.st.ListPeriods(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "PERIOD")
	for _, p := range periods {
		fmt.Fprintln(w, p.String())
	}
	return nil
}

func viewLog(ctx context.Context, a *app, f viewFilter, w *tabwriter.Writer) error {
	recs, err := a.st.ListIngestions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "FILE\tBANK\tFORM\tPERIOD\tROWS\tLOADED")
	for i, r := range recs {
		if f.limit > 0 && i >= f.limit {
			break
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", r.FileName, r.BankID, r.FormCode, r.Period,
			r.RowsLoaded, r.LoadedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func viewRaw(ctx context.Context, a *app, f viewFilter, w *tabwriter.Writer) error {
	obs, err := a.st.ListRawObservations(ctx, store.RawQuery{
		BankID:   f.bank,
		FormCode: f.form,
		Period:   f.period,
		Limit:    f.limit,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "BANK\tFORM\tPERIOD\tITEM\tVALUE")
	for _, o := range obs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.BankID, o.FormCode, o.Period, o.ItemCode, formatValue(o.Value))
	}
	return nil
}

func viewIndicators(ctx context.Context, a *app, f viewFilter, w *tabwriter.Writer) error {
	values, err := a.st.ListIndicatorValues(ctx, store.IndicatorQuery{BankID: f.bank, Period: f.period})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "BANK\tPERIOD\tINDICATOR\tVALUE")
	for i, v := range values {
		if f.limit > 0 && i >= f.limit {
			break
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.BankID, v.Period, v.IndicatorID, formatValue(v.Value))
	}
	return nil
}
