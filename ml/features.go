package ml

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FeatureSchemaVersion changes whenever FeatureNames changes order, meaning or normalisation.
const FeatureSchemaVersion = 1

// FeatureDim is the width of every FeatureVector.
const FeatureDim = 12

// FeatureVector is an ordered, normalised summary of a page. Every value is in [0,1].
type FeatureVector []float64

// PageFeatures holds the raw counts behind a FeatureVector.
type PageFeatures struct {
	CTACount       int
	FormCount      int
	InputCount     int
	HeadingCount   int
	HasH1          bool
	ImageCount     int
	ImagesWithAlt  int
	TrustHits      int
	WordCount      int
	LinkTextChars  int
	TextChars      int
	ContactSignals int
	MetaSignals    int
}

// FeatureExtractor turns raw HTML into a FeatureVector.
type FeatureExtractor interface {
	Extract(html string) FeatureVector
}

// Extractor is the goquery based FeatureExtractor. The zero value is ready to use.
type Extractor struct{}

// NewExtractor returns an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract never fails: empty or unparsable HTML yields a zero vector of FeatureDim.
func (e *Extractor) Extract(html string) FeatureVector {
	pf, ok := ExtractPageFeatures(html)
	if !ok {
		return make(FeatureVector, FeatureDim)
	}
	return pf.Vector()
}

// ExtractPageFeatures parses html and collects raw counts. ok is false for empty input, a parse failure,
// or nesting deeper than MaxHTMLDepth. Input beyond MaxHTMLBytes is ignored.
func ExtractPageFeatures(html string) (PageFeatures, bool) {
	var pf PageFeatures
	if strings.TrimSpace(html) == "" {
		return pf, false
	}
	html = truncateHTML(html)
	if nestingDepth(html, MaxHTMLDepth) > MaxHTMLDepth {
		return pf, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return pf, false
	}

	doc.Find("script,style,noscript,template").Remove()

	pf.CTACount = countCTAs(doc)
	pf.FormCount = doc.Find("form").Length()
	pf.InputCount = doc.Find("input:not([type=hidden]),select,textarea").Length()
	pf.HeadingCount = doc.Find("h1,h2,h3,h4,h5,h6").Length()
	pf.HasH1 = doc.Find("h1").Length() > 0

	images := doc.Find("img")
	pf.ImageCount = images.Length()
	images.Each(func(_ int, s *goquery.Selection) {
		if alt, ok := s.Attr("alt"); ok && strings.TrimSpace(alt) != "" {
			pf.ImagesWithAlt++
		}
	})

	text := normalizeText(doc.Find("body").Text())
	if text == "" {
		text = normalizeText(doc.Text())
	}
	folded := foldText(text)
	pf.WordCount = len(strings.Fields(text))
	pf.TextChars = len([]rune(text))
	pf.TrustHits = countKeywordHits(folded, trustKeywords)

	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		pf.LinkTextChars += len([]rune(normalizeText(s.Text())))
	})

	pf.ContactSignals = countContactSignals(doc, text)
	pf.MetaSignals = countMetaSignals(doc)
	return pf, true
}

// Vector normalises the raw counts in FeatureNames order.
func (pf PageFeatures) Vector() FeatureVector {
	imageAltRatio := 0.0
	if pf.ImageCount > 0 {
		imageAltRatio = float64(pf.ImagesWithAlt) / float64(pf.ImageCount)
	}
	linkDensity := 0.0
	if pf.TextChars > 0 {
		linkDensity = float64(pf.LinkTextChars) / float64(pf.TextChars)
	}

	return FeatureVector{
		saturate(float64(pf.CTACount), maxCTAs),
		saturate(float64(pf.FormCount), maxForms),
		saturate(float64(pf.InputCount), maxInputs),
		saturate(float64(pf.HeadingCount), maxHeadings),
		boolFeature(pf.HasH1),
		saturate(float64(pf.ImageCount), maxImages),
		clamp01(imageAltRatio),
		saturate(float64(pf.TrustHits), maxTrustHits),
		logSaturate(float64(pf.WordCount), maxWords),
		clamp01(linkDensity),
		saturate(float64(pf.ContactSignals), maxContactSignals),
		saturate(float64(pf.MetaSignals), maxMetaSignals),
	}
}

// FeatureNames returns the feature names in vector order.
func FeatureNames() []string {
	return []string{
		"cta_count",
		"form_count",
		"input_count",
		"heading_count",
		"has_h1",
		"image_count",
		"image_alt_ratio",
		"trust_hits",
		"text_length",
		"link_density",
		"contact_presence",
		"meta_completeness",
	}
}

// Named pairs each value with its feature name, for explain output.
func (v FeatureVector) Named() map[string]float64 {
	names := FeatureNames()
	out := make(map[string]float64, len(v))
	for i, value := range v {
		if i < len(names) {
			out[names[i]] = value
		}
	}
	return out
}

func countCTAs(doc *goquery.Document) int {
	count := doc.Find("button,input[type=submit],input[type=button]").Length()
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		class := strings.ToLower(s.AttrOr("class", "") + " " + s.AttrOr("role", ""))
		if strings.Contains(class, "btn") || strings.Contains(class, "button") || strings.Contains(class, "cta") {
			count++
			return
		}
		if countKeywordHits(foldText(normalizeText(s.Text())), ctaKeywords) > 0 {
			count++
		}
	})
	return count
}

func countContactSignals(doc *goquery.Document, text string) int {
	signals := doc.Find(`a[href^="mailto:"],a[href^="tel:"],address`).Length()
	if emailPattern.MatchString(text) {
		signals++
	}
	if phonePattern.MatchString(text) {
		signals++
	}
	return signals
}

func countMetaSignals(doc *goquery.Document) int {
	signals := 0
	if strings.TrimSpace(doc.Find("title").First().Text()) != "" {
		signals++
	}
	if content, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && strings.TrimSpace(content) != "" {
		signals++
	}
	if doc.Find(`meta[name="viewport"]`).Length() > 0 {
		signals++
	}
	if doc.Find(`meta[property^="og:"]`).Length() > 0 {
		signals++
	}
	return signals
}
