package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/duongtuanvn/Amazon-Review-Scraper/api/schemas"
)

// ErrNoPagerControl is returned by AdvancePage when no usable next-page
// control exists on the page.
var ErrNoPagerControl = errors.New("no enabled next-page control on page")

// Selector sets the page queries rely on. Each list is a priority order:
// the first selector that matches wins.
const (
	reviewCardSelector  = `div[data-hook="review"], div[data-hook="mobley-review-content"]`
	noReviewsSelector   = `div[data-hook="no-reviews-section"], .no-reviews-section`
	nextPageSelector    = `ul.a-pagination li.a-last:not(.a-disabled) a`
	seeAllReviewsAnchor = `a[data-hook="see-all-reviews-link-foot"], a[href*="/product-reviews/"]`
)

const contentPollInterval = 250 * time.Millisecond

// Inspector answers discrete questions about the currently rendered page and
// triggers single navigating actions. It holds no traversal state of its own.
type Inspector struct {
	logger  *zap.Logger
	filters schemas.FilterSet
}

// NewInspector creates an inspector bound to the given filter partitioning.
func NewInspector(logger *zap.Logger, filters schemas.FilterSet) *Inspector {
	return &Inspector{
		logger:  logger.Named("inspector"),
		filters: filters,
	}
}

// CurrentURL returns the address of the rendered page.
func (i *Inspector) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := chromedp.Run(ctx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("failed to read page location: %w", err)
	}
	return location, nil
}

// CurrentFilter parses the active star filter from the page address. The
// second return is false on the unfiltered "all reviews" view.
func (i *Inspector) CurrentFilter(ctx context.Context) (schemas.StarFilter, bool, error) {
	location, err := i.CurrentURL(ctx)
	if err != nil {
		return schemas.StarFilter{}, false, err
	}

	filter, ok, unknown := filterFromLocation(i.filters, location)
	if unknown != "" {
		// An unknown filter value is treated the same as no filter; the
		// controller will steer back to the expected partition.
		i.logger.Debug("Unknown filterByStar value on page", zap.String("value", unknown))
	}
	return filter, ok, nil
}

// CurrentPageNumber parses the 1-based page number from the page address,
// defaulting to 1 when absent.
func (i *Inspector) CurrentPageNumber(ctx context.Context) (int, error) {
	location, err := i.CurrentURL(ctx)
	if err != nil {
		return 0, err
	}
	return pageNumberFromLocation(location), nil
}

// IsReviewListing reports whether the page is the paginated review listing
// (as opposed to a single product detail page).
func (i *Inspector) IsReviewListing(ctx context.Context) (bool, error) {
	location, err := i.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	return isReviewListingLocation(location), nil
}

// filterFromLocation resolves the filterByStar query parameter against the
// filter set. The third return carries an unrecognized raw value for logging.
func filterFromLocation(filters schemas.FilterSet, location string) (schemas.StarFilter, bool, string) {
	parsed, err := url.Parse(location)
	if err != nil {
		return schemas.StarFilter{}, false, ""
	}

	query := parsed.Query().Get("filterByStar")
	if query == "" || query == "all_stars" {
		return schemas.StarFilter{}, false, ""
	}

	filter, ok := filters.ByQuery(query)
	if !ok {
		return schemas.StarFilter{}, false, query
	}
	return filter, true, ""
}

func pageNumberFromLocation(location string) int {
	parsed, err := url.Parse(location)
	if err != nil {
		return 1
	}
	raw := parsed.Query().Get("pageNumber")
	if raw == "" {
		return 1
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func isReviewListingLocation(location string) bool {
	parsed, err := url.Parse(location)
	if err != nil {
		return false
	}
	return containsPathSegment(parsed.Path, "product-reviews")
}

// OpenAllReviews follows the "see all reviews" link from a product detail
// page. Navigation is asynchronous; the caller resumes on a later tick.
func (i *Inspector) OpenAllReviews(ctx context.Context) error {
	ok, err := i.clickFirst(ctx, seeAllReviewsAnchor)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no see-all-reviews link on page")
	}
	return nil
}

// HasNextPage reports whether a non-disabled next-page control exists.
func (i *Inspector) HasNextPage(ctx context.Context) (bool, error) {
	return i.exists(ctx, nextPageSelector)
}

// ChallengePresent reports whether the page is an anti-automation
// interstitial: a captcha form target or its characteristic prompt text.
func (i *Inspector) ChallengePresent(ctx context.Context) (bool, error) {
	const script = `(() => {
		if (document.querySelector('form[action*="validateCaptcha"]')) return true;
		const text = document.body ? document.body.innerText : "";
		return text.includes("Enter the characters you see below") ||
			text.includes("Type the characters you see in this image");
	})()`

	var present bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &present)); err != nil {
		return false, fmt.Errorf("challenge probe failed: %w", err)
	}
	return present, nil
}

// ContentReady reports whether the page has settled into a decidable state:
// either review cards are rendered or an explicit no-results marker is.
func (i *Inspector) ContentReady(ctx context.Context) (bool, error) {
	cards, err := i.exists(ctx, reviewCardSelector)
	if err != nil {
		return false, err
	}
	if cards {
		return true, nil
	}
	return i.exists(ctx, noReviewsSelector)
}

// WaitForContentReady polls until ContentReady or the timeout elapses. The
// timeout is not an error: the next controller tick re-examines the page.
func (i *Inspector) WaitForContentReady(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if ready, err := i.ContentReady(ctx); err == nil && ready {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(contentPollInterval):
		}
	}
}

// ActivateFilter tries, in order, three strategies to navigate to the given
// partition: the rating histogram control, a direct filter link, and the
// filter dropdown. It returns on the first success and does not wait for the
// resulting navigation.
func (i *Inspector) ActivateFilter(ctx context.Context, filter schemas.StarFilter) error {
	strategies := []struct {
		name string
		run  func(context.Context, schemas.StarFilter) (bool, error)
	}{
		{"histogram", i.activateViaHistogram},
		{"direct_link", i.activateViaLink},
		{"dropdown", i.activateViaDropdown},
	}

	for _, strategy := range strategies {
		ok, err := strategy.run(ctx, filter)
		if err != nil {
			i.logger.Debug("Filter activation strategy errored",
				zap.String("strategy", strategy.name), zap.String("filter", filter.ID), zap.Error(err))
			continue
		}
		if ok {
			i.logger.Debug("Filter activated",
				zap.String("strategy", strategy.name), zap.String("filter", filter.ID))
			return nil
		}
	}
	return fmt.Errorf("all activation strategies failed for filter %s", filter.ID)
}

func (i *Inspector) activateViaHistogram(ctx context.Context, filter schemas.StarFilter) (bool, error) {
	selector := fmt.Sprintf(`#histogramTable a[href*="filterByStar=%s"], a.histogram-review-count[href*="%s"]`, filter.Query, filter.Query)
	return i.clickFirst(ctx, selector)
}

func (i *Inspector) activateViaLink(ctx context.Context, filter schemas.StarFilter) (bool, error) {
	return i.clickFirst(ctx, fmt.Sprintf(`a[href*="filterByStar=%s"]`, filter.Query))
}

func (i *Inspector) activateViaDropdown(ctx context.Context, filter schemas.StarFilter) (bool, error) {
	script := fmt.Sprintf(`(() => {
		const sel = document.querySelector('select#star-count-dropdown, select[name="filterByStar"]');
		if (!sel) return false;
		const opt = Array.from(sel.options).find(o => o.value.includes(%q));
		if (!opt) return false;
		sel.value = opt.value;
		sel.dispatchEvent(new Event("change", { bubbles: true }));
		return true;
	})()`, filter.Query)

	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return false, err
	}
	return ok, nil
}

// AdvancePage triggers the next-page control. It does not wait for the
// resulting navigation.
func (i *Inspector) AdvancePage(ctx context.Context) error {
	ok, err := i.clickFirst(ctx, nextPageSelector)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoPagerControl
	}
	return nil
}

// exists reports whether any element matches selector.
func (i *Inspector) exists(ctx context.Context, selector string) (bool, error) {
	script := fmt.Sprintf(`!!document.querySelector(%q)`, selector)
	var found bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return false, fmt.Errorf("element probe failed: %w", err)
	}
	return found, nil
}

// clickFirst clicks the first element matching selector via the page's own
// click handler, returning whether a target existed.
func (i *Inspector) clickFirst(ctx context.Context, selector string) (bool, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.click();
		return true;
	})()`, selector)

	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return false, fmt.Errorf("click failed: %w", err)
	}
	return clicked, nil
}

func containsPathSegment(path, segment string) bool {
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
