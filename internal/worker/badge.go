package worker

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/tuilink/realtime-monitor/internal/monitor"
)

// networkBadgeXPath locates the activity counter on the network nav entry.
const networkBadgeXPath = `//*[@href="https://www.linkedin.com/mynetwork/?"]/div/span/span[1]`

// messagingBadgeSelector locates the unread marker on the messaging overlay.
const messagingBadgeSelector = `#msg-overlay header mark`

var digitsPattern = regexp.MustCompile(`\d+`)

// badgeResult is the structured return of the badge probe script.
type badgeResult struct {
	Found bool `json:"found"`
	Count int  `json:"count"`
}

// badgeScriptTemplate probes an indicator element by xpath and falls back to
// scanning nav links when the xpath no longer matches the live DOM. It always
// resolves to {found, count} and never throws.
const badgeScriptTemplate = `(() => {
	const xpath = %q;
	const hrefPattern = %q;

	function visible(el) {
		if (!el) return false;
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden') return false;
		const rect = el.getBoundingClientRect();
		return rect.width >= 1 || rect.height >= 1;
	}

	function extractNumber(text) {
		if (!text) return null;
		const match = text.trim().match(/\d+/);
		return match ? parseInt(match[0], 10) : null;
	}

	try {
		const result = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null);
		const el = result.singleNodeValue;
		if (el && visible(el)) {
			const count = extractNumber(el.textContent || el.innerText || '');
			if (count !== null && count > 0) {
				return {found: true, count: count};
			}
		}

		const links = Array.from(document.querySelectorAll('a'))
			.filter(a => (a.getAttribute('href') || '').includes(hrefPattern));
		for (const link of links) {
			for (const span of link.querySelectorAll('span')) {
				if (!visible(span)) continue;
				const count = extractNumber(span.textContent || span.innerText || '');
				if (count !== null && count > 0) {
					return {found: true, count: count};
				}
			}
		}
		return {found: false, count: 0};
	} catch (e) {
		return {found: false, count: 0};
	}
})()`

// readNetworkBadge probes the network indicator. Unresolved probes report
// (false, 0); only a dead browser returns an error.
func readNetworkBadge(ctx context.Context, sess monitor.Session) (bool, int, error) {
	script := fmt.Sprintf(badgeScriptTemplate, networkBadgeXPath, "mynetwork")
	var result badgeResult
	if err := sess.Evaluate(ctx, script, &result); err != nil {
		if monitor.IsSessionClosed(err) {
			return false, 0, err
		}
		return false, 0, nil
	}
	return result.Found && result.Count > 0, result.Count, nil
}

// readMessagesBadge probes the messaging unread marker. A missing element is
// an ordinary "no activity" outcome.
func readMessagesBadge(ctx context.Context, sess monitor.Session) (bool, int, error) {
	text, err := sess.ElementText(ctx, messagingBadgeSelector, 3*time.Second)
	if err != nil {
		if monitor.IsSessionClosed(err) {
			return false, 0, err
		}
		return false, 0, nil
	}
	match := digitsPattern.FindString(text)
	if match == "" {
		return false, 0, nil
	}
	count, err := strconv.Atoi(match)
	if err != nil || count <= 0 {
		return false, 0, nil
	}
	return true, count, nil
}
