package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duongtuanvn/Amazon-Review-Scraper/api/schemas"
)

// Per-field selector strategies, tried in order. The listing's markup varies
// across layouts and experiments, so each field degrades independently;
// only an empty body excludes a record.
var (
	authorSelectors = []string{
		`span.a-profile-name`,
		`.a-profile-name`,
		`span[data-hook="review-author"]`,
	}
	ratingSelectors = []string{
		`i[data-hook="review-star-rating"] span.a-icon-alt`,
		`i[data-hook="cmps-review-star-rating"] span.a-icon-alt`,
		`i[class*="a-star-"] span.a-icon-alt`,
	}
	titleSelectors = []string{
		`a[data-hook="review-title"] span:last-of-type`,
		`a[data-hook="review-title"]`,
		`span[data-hook="review-title"]`,
	}
	dateSelectors = []string{
		`span[data-hook="review-date"]`,
	}
	bodySelectors = []string{
		`span[data-hook="review-body"] span`,
		`span[data-hook="review-body"]`,
		`.review-text-content`,
	}
	variantSelectors = []string{
		`a[data-hook="format-strip"]`,
		`span[data-hook="format-strip"]`,
	}
	verifiedSelector = `span[data-hook="avp-badge"]`
)

// ExtractReviews scans all review cards on the rendered page and returns the
// records they yield, tagged with the partition and page that produced them.
func (i *Inspector) ExtractReviews(ctx context.Context, filter schemas.StarFilter, pageIndex int) ([]schemas.Review, error) {
	var pageHTML string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &pageHTML, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("failed to read page markup: %w", err)
	}
	return i.extractFromHTML(pageHTML, filter, pageIndex)
}

// extractFromHTML is the pure parsing half of ExtractReviews, split out so
// tests can feed captured markup directly.
func (i *Inspector) extractFromHTML(pageHTML string, filter schemas.StarFilter, pageIndex int) ([]schemas.Review, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page markup: %w", err)
	}

	var records []schemas.Review
	doc.Find(reviewCardSelector).Each(func(idx int, card *goquery.Selection) {
		record, err := i.extractCard(card, filter, pageIndex)
		if err != nil {
			// A single bad card never aborts the page.
			i.logger.Warn("Skipping review card",
				zap.Int("card_index", idx), zap.String("filter", filter.ID), zap.Error(err))
			return
		}
		if record.BodyText == "" {
			i.logger.Debug("Dropping review card with empty body",
				zap.Int("card_index", idx), zap.String("filter", filter.ID))
			return
		}
		records = append(records, record)
	})

	i.logger.Debug("Extracted review cards",
		zap.Int("count", len(records)), zap.String("filter", filter.ID), zap.Int("page", pageIndex))
	return records, nil
}

// extractCard pulls one record from a card. All fields except the body
// degrade to placeholders; panics from surprising markup are converted to
// per-card errors.
func (i *Inspector) extractCard(card *goquery.Selection, filter schemas.StarFilter, pageIndex int) (record schemas.Review, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("card parse panic: %v", r)
		}
	}()

	id, ok := card.Attr("id")
	if !ok || id == "" {
		id = "synthetic-" + uuid.NewString()
	}

	author := firstText(card, authorSelectors)
	if author == "" {
		author = "Anonymous"
	}

	record = schemas.Review{
		ID:              id,
		Author:          author,
		RatingLabel:     firstText(card, ratingSelectors),
		Title:           firstText(card, titleSelectors),
		Date:            firstText(card, dateSelectors),
		BodyText:        firstText(card, bodySelectors),
		Verified:        card.Find(verifiedSelector).Length() > 0,
		VariantLabel:    firstText(card, variantSelectors),
		FilterPartition: filter.ID,
		PageIndex:       pageIndex,
	}
	return record, nil
}

// firstText returns the trimmed text of the first selector that matches a
// non-empty element.
func firstText(root *goquery.Selection, selectors []string) string {
	for _, selector := range selectors {
		if text := strings.TrimSpace(root.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}
