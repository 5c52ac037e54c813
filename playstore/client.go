package playstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	batchExecutePath = "/_/PlayStoreUi/data/batchexecute"
	reviewsRPC       = "UsvDTd"
	permissionsRPC   = "xdSrCf"
)

// ClientConfig tunes the guarded store client.
type ClientConfig struct {
	// RequestsPerSecond caps the request rate against the store.
	RequestsPerSecond float64
	// Attempts is the number of tries per request; transient failures
	// back off exponentially in between.
	Attempts int
	// Timeout bounds one HTTP exchange.
	Timeout time.Duration
	// MaxBodySize bounds a response body.
	MaxBodySize int64
	// UserAgent identifies the crawler.
	UserAgent string
	// Country selects the storefront.
	Country string
}

// DefaultClientConfig matches the store's observed tolerances: ten
// requests per second, three tries per request.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RequestsPerSecond: 10,
		Attempts:          3,
		Timeout:           30 * time.Second,
		MaxBodySize:       10 << 20,
		UserAgent:         "trawler/1.0",
		Country:           "us",
	}
}

// Client implements Scraper against the store's web endpoints. Every
// exchange passes three guards: a rate limiter, a circuit breaker that
// fails fast while the store keeps erroring, and bounded retries with
// exponential backoff. A 404 maps to ErrAppNotFound and is never
// retried.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	converter *Converter
	config    ClientConfig
	baseURL   string
	// retryInterval seeds the backoff policy; tests shrink it.
	retryInterval time.Duration
}

// NewClient returns a client with the given configuration; zero fields
// fall back to DefaultClientConfig.
func NewClient(config ClientConfig) *Client {
	defaults := DefaultClientConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.Attempts <= 0 {
		config.Attempts = defaults.Attempts
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = defaults.MaxBodySize
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.Country == "" {
		config.Country = defaults.Country
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "playstore",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A 404 is a valid answer, not a store outage.
			return err == nil || errors.Is(err, ErrAppNotFound)
		},
	})
	return &Client{
		http:          &http.Client{Transport: transport, Timeout: config.Timeout},
		limiter:       rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		breaker:       breaker,
		converter:     NewConverter(),
		config:        config,
		baseURL:       "https://play.google.com",
		retryInterval: time.Second,
	}
}

// fetch runs one guarded exchange: rate limiter, then breaker
// admission per attempt, with exponential backoff across transient
// failures.
func (c *Client) fetch(ctx context.Context, method, rawURL string, form url.Values) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.MaxInterval = 30 * time.Second

	var payload []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		result, err := c.breaker.Execute(func() (any, error) {
			return c.do(ctx, method, rawURL, form)
		})
		if err != nil {
			switch {
			case errors.Is(err, ErrAppNotFound),
				errors.Is(err, gobreaker.ErrOpenState),
				errors.Is(err, gobreaker.ErrTooManyRequests),
				ctx.Err() != nil:
				return backoff.Permanent(err)
			}
			return err
		}
		payload = result.([]byte)
		return nil
	}
	retries := backoff.WithMaxRetries(policy, uint64(c.config.Attempts-1))
	if err := backoff.Retry(operation, backoff.WithContext(retries, ctx)); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrAppNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(payload)) > c.config.MaxBodySize {
		return nil, fmt.Errorf("response exceeds %d bytes", c.config.MaxBodySize)
	}
	return payload, nil
}

// App implements Scraper. The detail page embeds a schema.org
// description of the listing; the client maps that stable surface and
// falls back to readability extraction for the description. Fields
// that only live in the page's obfuscated datasets (install counts,
// cross-sell page tokens) stay unmapped.
func (c *Client) App(ctx context.Context, appID, lang string) (map[string]any, error) {
	pageURL := fmt.Sprintf("%s/store/apps/details?id=%s&hl=%s&gl=%s",
		c.baseURL, url.QueryEscape(appID), url.QueryEscape(lang), url.QueryEscape(c.config.Country))
	page, err := c.fetch(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	response := appFromPage(page)
	response["appId"] = appID
	response["url"] = pageURL
	if _, ok := response["description"]; !ok {
		if description, err := c.converter.ExtractDescription(pageURL, page); err == nil && description != "" {
			response["description"] = description
		}
	}
	return response, nil
}

// Reviews implements Scraper over the store's paging RPC. Field
// positions in the wire arrays track the store's web app.
func (c *Client) Reviews(ctx context.Context, query ReviewsQuery) ([]map[string]any, *ContinuationToken, error) {
	count := query.Count
	if count <= 0 {
		count = ResultsPerRequest
	}
	sort := query.Sort
	if sort == 0 {
		sort = SortNewest
	}
	lang := query.Lang
	if lang == "" {
		lang = "en"
	}
	country := query.Country
	if country == "" {
		country = c.config.Country
	}

	token := "null"
	score := "null"
	if query.Continuation != nil {
		if query.Continuation.Token != "" {
			token = strconv.Quote(query.Continuation.Token)
		}
		if query.Continuation.FilterScoreWith != nil {
			score = strconv.Itoa(*query.Continuation.FilterScoreWith)
		}
	}
	request := fmt.Sprintf(`[null,null,[2,%d,[%d,null,%s],null,[null,%s]],[%q,7]]`,
		sort, count, token, score, query.AppID)

	payload, err := c.batchExecute(ctx, reviewsRPC, request, lang)
	if err != nil {
		return nil, nil, err
	}
	if payload == nil {
		return nil, nil, nil
	}

	var reviews []map[string]any
	if entries, ok := dig(payload, 0).([]any); ok {
		reviews = make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			if review := reviewFromEntry(entry); review != nil {
				reviews = append(reviews, review)
			}
		}
	}
	var next *ContinuationToken
	if continuation, ok := dig(payload, -1, -1).(string); ok && continuation != "" {
		next = &ContinuationToken{
			Token:   continuation,
			Lang:    lang,
			Country: country,
			Sort:    sort,
			Count:   count,
		}
		if query.Continuation != nil {
			next.FilterScoreWith = query.Continuation.FilterScoreWith
		}
	}
	return reviews, next, nil
}

// Permissions implements Scraper. The inventory left the web listing
// in 2021 and only answers on the internal RPC; a null payload means
// the store does not know the app.
func (c *Client) Permissions(ctx context.Context, appID, lang string) (map[string]any, error) {
	request := fmt.Sprintf(`[[null,[%q,7],[]]]`, appID)
	payload, err := c.batchExecute(ctx, permissionsRPC, request, lang)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, ErrAppNotFound
	}

	response := make(map[string]any)
	for _, index := range []int{0, 1} {
		groups, ok := dig(payload, index).([]any)
		if !ok {
			continue
		}
		for _, group := range groups {
			category, ok := dig(group, 0).(string)
			if !ok || category == "" {
				continue
			}
			response[category] = permissionNames(dig(group, 2))
		}
	}
	if others := permissionNames(dig(payload, 2)); len(others) > 0 {
		response["Other"] = others
	}
	return response, nil
}

// permissionNames reads the name column of a permission entry list.
func permissionNames(value any) []any {
	entries, ok := value.([]any)
	if !ok {
		return nil
	}
	var names []any
	for _, entry := range entries {
		if name, ok := dig(entry, 1).(string); ok {
			names = append(names, name)
		}
	}
	return names
}

// DataSafety implements Scraper by walking the declaration page's
// heading structure. Entry details live in the page's obfuscated
// datasets; only the heading skeleton is mapped.
func (c *Client) DataSafety(ctx context.Context, appID, lang string) (map[string]any, error) {
	pageURL := fmt.Sprintf("%s/store/apps/datasafety?id=%s&hl=%s&gl=%s",
		c.baseURL, url.QueryEscape(appID), url.QueryEscape(lang), url.QueryEscape(c.config.Country))
	page, err := c.fetch(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	response := parseDataSafetyPage(page)
	response["appId"] = appID
	response["url"] = pageURL
	return response, nil
}

// DeveloperApps implements Scraper by scanning the developer page for
// listing links.
func (c *Client) DeveloperApps(ctx context.Context, token, lang string) ([]string, error) {
	pageURL := fmt.Sprintf("%s/store/apps/dev?id=%s&hl=%s&gl=%s",
		c.baseURL, url.QueryEscape(token), url.QueryEscape(lang), url.QueryEscape(c.config.Country))
	page, err := c.fetch(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	return appLinks(page), nil
}

// CollectionApps implements Scraper by scanning a cluster page for
// listing links.
func (c *Client) CollectionApps(ctx context.Context, token, lang string) ([]string, error) {
	pageURL := fmt.Sprintf("%s/store/apps/collection/cluster?gsr=%s&hl=%s&gl=%s",
		c.baseURL, url.QueryEscape(token), url.QueryEscape(lang), url.QueryEscape(c.config.Country))
	page, err := c.fetch(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	return appLinks(page), nil
}

// batchExecute posts one RPC envelope and unwraps the payload, a JSON
// document nested as a string inside the envelope. The format tracks
// the store's web app.
func (c *Client) batchExecute(ctx context.Context, rpcID, request, lang string) ([]any, error) {
	endpoint := fmt.Sprintf("%s%s?hl=%s&gl=%s",
		c.baseURL, batchExecutePath, url.QueryEscape(lang), url.QueryEscape(c.config.Country))
	form := url.Values{}
	form.Set("f.req", fmt.Sprintf(`[[[%q,%q,null,"generic"]]]`, rpcID, request))

	body, err := c.fetch(ctx, http.MethodPost, endpoint, form)
	if err != nil {
		return nil, err
	}

	// The response opens with an anti-XSSI guard, sometimes followed
	// by a chunk length line, before the JSON.
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(bytes.TrimSpace(body), []byte(")]}'")))
	if i := bytes.IndexByte(trimmed, '['); i > 0 {
		trimmed = trimmed[i:]
	}
	var envelope []any
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode rpc envelope: %w", err)
	}
	payload, ok := dig(envelope, 0, 2).(string)
	if !ok || payload == "" || payload == "null" {
		return nil, nil
	}
	var decoded []any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("decode rpc payload: %w", err)
	}
	return decoded, nil
}

// dig walks nested JSON arrays by index, nil on any miss. Negative
// indices count from the end.
func dig(value any, indices ...int) any {
	for _, index := range indices {
		list, ok := value.([]any)
		if !ok {
			return nil
		}
		if index < 0 {
			index += len(list)
		}
		if index < 0 || index >= len(list) {
			return nil
		}
		value = list[index]
	}
	return value
}

// reviewFromEntry maps one review entry of the paging RPC. Positions
// track the store's web app; a vanished field degrades to an absent
// key, never a panic.
func reviewFromEntry(entry any) map[string]any {
	id, ok := dig(entry, 0).(string)
	if !ok || id == "" {
		return nil
	}
	review := map[string]any{"reviewId": id}
	if name, ok := dig(entry, 1, 0).(string); ok {
		review["userName"] = name
	}
	if image, ok := dig(entry, 1, 1, 3, 2).(string); ok {
		review["userImage"] = image
	}
	if score, ok := dig(entry, 2).(float64); ok {
		review["score"] = score
	}
	if content, ok := dig(entry, 4).(string); ok {
		review["content"] = content
	}
	if at, ok := dig(entry, 5, 0).(float64); ok {
		review["at"] = time.Unix(int64(at), 0).UTC()
	}
	if thumbs, ok := dig(entry, 6).(float64); ok {
		review["thumbsUpCount"] = int(thumbs)
	}
	if reply, ok := dig(entry, 7, 1).(string); ok {
		review["replyContent"] = reply
	}
	if repliedAt, ok := dig(entry, 7, 2, 0).(float64); ok {
		review["repliedAt"] = time.Unix(int64(repliedAt), 0).UTC()
	}
	if version, ok := dig(entry, 10).(string); ok {
		review["reviewCreatedVersion"] = version
	}
	return review
}

// appFromPage maps the schema.org block the store embeds in every
// detail page. Numeric fields arrive as strings there.
func appFromPage(page []byte) map[string]any {
	response := make(map[string]any)
	ld, ok := jsonLD(page)
	if !ok {
		return response
	}
	if name, ok := ld["name"].(string); ok {
		response["title"] = name
	}
	if description, ok := ld["description"].(string); ok && description != "" {
		response["description"] = description
	}
	if image, ok := ld["image"].(string); ok {
		response["icon"] = image
	}
	if rating, ok := ld["contentRating"].(string); ok {
		response["contentRating"] = rating
	}
	if category, ok := ld["applicationCategory"].(string); ok {
		response["genreId"] = category
	}
	if author, ok := ld["author"].(map[string]any); ok {
		if name, ok := author["name"].(string); ok {
			response["developer"] = name
		}
	}
	if aggregate, ok := ld["aggregateRating"].(map[string]any); ok {
		if value, ok := numeric(aggregate["ratingValue"]); ok {
			response["score"] = value
		}
		if count, ok := numeric(aggregate["ratingCount"]); ok {
			response["ratings"] = int(count)
		}
	}
	if offers := offersOf(ld["offers"]); len(offers) > 0 {
		offer := offers[0]
		if price, ok := numeric(offer["price"]); ok {
			response["price"] = price
			response["free"] = price == 0
		}
		if currency, ok := offer["priceCurrency"].(string); ok {
			response["currency"] = currency
		}
	}
	return response
}

// jsonLD returns the first schema.org block of a page.
func jsonLD(page []byte) (map[string]any, bool) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, false
	}
	var block string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if block != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "script" {
			for _, attr := range n.Attr {
				if attr.Key == "type" && attr.Val == "application/ld+json" && n.FirstChild != nil {
					block = n.FirstChild.Data
					return
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	if block == "" {
		return nil, false
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(block), &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

// numeric reads a JSON number or numeric string.
func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

// offersOf accepts the single-offer and offer-list forms of the
// schema.org block.
func offersOf(value any) []map[string]any {
	switch v := value.(type) {
	case map[string]any:
		return []map[string]any{v}
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, entry := range v {
			if offer, ok := entry.(map[string]any); ok {
				out = append(out, offer)
			}
		}
		return out
	}
	return nil
}

// appLinks collects the distinct app ids a page links to, in
// first-seen order.
func appLinks(page []byte) []string {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var ids []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				id, ok := appIDFromHref(attr.Val)
				if !ok {
					continue
				}
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return ids
}

// appIDFromHref extracts the id parameter of a listing link.
func appIDFromHref(href string) (string, bool) {
	if !strings.Contains(href, "/store/apps/details") {
		return "", false
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	id := parsed.Query().Get("id")
	return id, id != ""
}

// parseDataSafetyPage buckets the page by its section headings: the
// two data category sections keyed by subheading, and the security
// practice names.
func parseDataSafetyPage(page []byte) map[string]any {
	collected := make(map[string]any)
	shared := make(map[string]any)
	practices := make([]any, 0)

	doc, err := html.Parse(bytes.NewReader(page))
	if err == nil {
		section := ""
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if n.Type == html.ElementNode {
				switch n.Data {
				case "h2":
					section = sectionKey(nodeText(n))
				case "h3":
					name := nodeText(n)
					if name != "" {
						switch section {
						case "dataCollected":
							collected[name] = []any{}
						case "dataShared":
							shared[name] = []any{}
						case "securityPractices":
							practices = append(practices, map[string]any{"name": name})
						}
					}
				}
			}
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				walk(child)
			}
		}
		walk(doc)
	}
	return map[string]any{
		"dataCollected":     collected,
		"dataShared":        shared,
		"securityPractices": practices,
	}
}

func sectionKey(title string) string {
	switch strings.ToLower(strings.TrimSpace(title)) {
	case "data shared":
		return "dataShared"
	case "data collected":
		return "dataCollected"
	case "security practices":
		return "securityPractices"
	}
	return ""
}

// nodeText returns the concatenated text of a node's subtree.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
