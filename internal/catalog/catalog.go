// Package catalog provides the clinic's static knowledge base:
// treatments, FAQs, objection handling, payment options, and accepted
// insurance. The data is embedded at build time; search is plain
// substring matching over names and keywords.
package catalog

import (
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

//go:embed knowledge/*.json
var knowledgeFS embed.FS

// Treatment describes one offered procedure.
type Treatment struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Keywords    []string `json:"keywords"`
	Description string   `json:"description"`
	Duration    string   `json:"duration"`
	PriceRange  string   `json:"price_range"`
	Benefits    []string `json:"benefits"`
}

// PaymentOptions describes how the clinic accepts payment.
type PaymentOptions struct {
	Methods            []string `json:"methods"`
	Installments       string   `json:"installments"`
	PixDiscountPercent int      `json:"pix_discount_percent"`
	Notes              string   `json:"notes"`
}

// FAQ is one question/answer pair.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Objection maps a common hesitation to suggested responses.
type Objection struct {
	Objection string   `json:"objection"`
	Responses []string `json:"responses"`
}

// Catalog is the loaded knowledge base.
type Catalog struct {
	treatments []Treatment
	payment    PaymentOptions
	insurance  []string
	faqs       []FAQ
	objections []Objection
}

// Load parses the embedded knowledge files.
func Load() (*Catalog, error) {
	var treatmentsFile struct {
		Treatments        []Treatment    `json:"treatments"`
		PaymentOptions    PaymentOptions `json:"payment_options"`
		AcceptedInsurance []string       `json:"accepted_insurance"`
	}
	if err := loadJSON("knowledge/treatments.json", &treatmentsFile); err != nil {
		return nil, err
	}

	var faqsFile struct {
		FAQs              []FAQ       `json:"faqs"`
		ObjectionHandling []Objection `json:"objection_handling"`
	}
	if err := loadJSON("knowledge/faqs.json", &faqsFile); err != nil {
		return nil, err
	}

	return &Catalog{
		treatments: treatmentsFile.Treatments,
		payment:    treatmentsFile.PaymentOptions,
		insurance:  treatmentsFile.AcceptedInsurance,
		faqs:       faqsFile.FAQs,
		objections: faqsFile.ObjectionHandling,
	}, nil
}

func loadJSON(path string, out any) error {
	data, err := knowledgeFS.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// SearchTreatments returns treatments whose name contains the query or
// whose keywords appear in the query.
func (c *Catalog) SearchTreatments(query string) []Treatment {
	q := strings.ToLower(query)
	var matches []Treatment
	for _, tr := range c.treatments {
		if strings.Contains(strings.ToLower(tr.Name), q) {
			matches = append(matches, tr)
			continue
		}
		for _, kw := range tr.Keywords {
			if strings.Contains(q, kw) {
				matches = append(matches, tr)
				break
			}
		}
	}
	return matches
}

// TreatmentByID returns the treatment with the given ID.
func (c *Catalog) TreatmentByID(id string) (Treatment, bool) {
	for _, tr := range c.treatments {
		if tr.ID == id {
			return tr, true
		}
	}
	return Treatment{}, false
}

// SearchFAQs returns at most three FAQs whose question or answer
// contains the query.
func (c *Catalog) SearchFAQs(query string) []FAQ {
	q := strings.ToLower(query)
	var matches []FAQ
	for _, f := range c.faqs {
		if strings.Contains(strings.ToLower(f.Question), q) || strings.Contains(strings.ToLower(f.Answer), q) {
			matches = append(matches, f)
			if len(matches) == 3 {
				break
			}
		}
	}
	return matches
}

// ObjectionResponses returns the suggested responses for an objection
// type such as "price", "time", or "fear".
func (c *Catalog) ObjectionResponses(objectionType string) []string {
	q := strings.ToLower(objectionType)
	for _, o := range c.objections {
		if strings.Contains(strings.ToLower(o.Objection), q) {
			return o.Responses
		}
	}
	return nil
}

// Payment returns the clinic's payment options.
func (c *Catalog) Payment() PaymentOptions {
	return c.payment
}

// Insurance returns the accepted insurance providers.
func (c *Catalog) Insurance() []string {
	return c.insurance
}

// InstallmentPlan is one way of paying a given amount over time.
type InstallmentPlan struct {
	Months  int     `json:"months"`
	Monthly float64 `json:"monthly_payment"`
	Total   float64 `json:"total"`
}

// InstallmentQuote summarizes the payment alternatives for an amount.
type InstallmentQuote struct {
	TotalAmount  float64         `json:"total_amount"`
	NoInterest   InstallmentPlan `json:"no_interest"`
	WithInterest InstallmentPlan `json:"with_interest"`
	PixDiscount  struct {
		DiscountPercent int     `json:"discount_percent"`
		FinalAmount     float64 `json:"final_amount"`
	} `json:"pix_discount"`
}

// extendedMonths and extendedInterest define the longer financed plan:
// 18 months at 15% total interest.
const (
	extendedMonths   = 18
	extendedInterest = 0.15
)

// CalculateInstallments quotes the standard plans for an amount:
// interest-free over months (default 12), the extended financed plan,
// and the Pix spot discount.
func CalculateInstallments(amount float64, months int) InstallmentQuote {
	if months <= 0 {
		months = 12
	}

	var q InstallmentQuote
	q.TotalAmount = amount
	q.NoInterest = InstallmentPlan{
		Months:  months,
		Monthly: round2(amount / float64(months)),
		Total:   amount,
	}
	q.WithInterest = InstallmentPlan{
		Months:  extendedMonths,
		Monthly: round2(amount * (1 + extendedInterest) / extendedMonths),
		Total:   round2(amount * (1 + extendedInterest)),
	}
	q.PixDiscount.DiscountPercent = 5
	q.PixDiscount.FinalAmount = round2(amount * 0.95)
	return q
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Slot is one available appointment opening.
type Slot struct {
	Date   string `json:"date"`
	Time   string `json:"time"`
	Period string `json:"period"`
}

// availableSlots is a static placeholder schedule. Replacing it with a
// real calendar integration is tracked for a future phase.
var availableSlots = []Slot{
	{Date: "2026-09-08", Time: "09:00", Period: "morning"},
	{Date: "2026-09-08", Time: "14:00", Period: "afternoon"},
	{Date: "2026-09-09", Time: "10:30", Period: "morning"},
	{Date: "2026-09-09", Time: "16:00", Period: "afternoon"},
	{Date: "2026-09-10", Time: "18:30", Period: "evening"},
}

// AvailableSlots returns up to five openings, optionally filtered by
// period ("morning", "afternoon", "evening").
func AvailableSlots(period string) []Slot {
	var out []Slot
	for _, s := range availableSlots {
		if period != "" && s.Period != period {
			continue
		}
		out = append(out, s)
		if len(out) == 5 {
			break
		}
	}
	return out
}
