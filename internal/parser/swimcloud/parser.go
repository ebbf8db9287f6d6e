// Package swimcloud extracts team IDs, roster IDs and swimmer profiles from
// swimcloud.com pages.
package swimcloud

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/swimtime"
)

const (
	selName         = "div.c-toolbar__header-content h1.c-toolbar__title span"
	selCurrentTeam  = `div.c-toolbar__header-content div.c-toolbar__meta a[href^="/team/"]`
	selTeamHistory  = `ul.c-list.c-list--multiline li.c-list__item a[href^="/team/"]`
	selTimeCell     = "td.u-text-end.u-text-semi"
	selEventCell    = "td.u-text-truncate"
	selProfileImage = "div.c-toolbar__media-user img[src]"
	selSocialLink   = "a.btn-icon-plain[href]"
	selTeamLink     = `a[href^="/team/"]`
	selSwimmerLink  = `a[href^="/swimmer/"]`
)

// Parser implements crawler.Parser for swimcloud markup.
type Parser struct{}

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

// TeamIDs returns the team IDs linked from a college listing page in page
// order, without duplicates.
func (p *Parser) TeamIDs(body []byte) ([]string, error) {
	return linkedIDs(body, selTeamLink)
}

// RosterIDs returns the swimmer IDs linked from a team roster page.
func (p *Parser) RosterIDs(body []byte) ([]string, error) {
	return linkedIDs(body, selSwimmerLink)
}

// Swimmer extracts the profile for swimmer id. A page without a swimmer name
// is reported as crawler.ErrMalformed.
func (p *Parser) Swimmer(id string, body []byte) (crawler.ParsedEntity, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.ParsedEntity{}, fmt.Errorf("%w: swimmer %s: %v", crawler.ErrMalformed, id, err)
	}

	name := text(doc.Find(selName).First())
	if name == "" {
		return crawler.ParsedEntity{}, fmt.Errorf("%w: swimmer %s: missing name", crawler.ErrMalformed, id)
	}

	entity := crawler.ParsedEntity{
		ID:          id,
		Name:        name,
		Affiliation: text(doc.Find(selCurrentTeam).First()),
		BestTimes:   map[string]swimtime.BestTime{},
	}

	seen := map[string]struct{}{}
	doc.Find(selTeamHistory).Each(func(_ int, s *goquery.Selection) {
		team := text(s)
		if team == "" {
			return
		}
		if _, dup := seen[team]; dup {
			return
		}
		seen[team] = struct{}{}
		entity.Teams = append(entity.Teams, team)
	})

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		timeCell := row.Find(selTimeCell).First()
		eventCell := row.Find(selEventCell).First()
		if timeCell.Length() == 0 || eventCell.Length() == 0 {
			return
		}
		swimtime.Record(entity.BestTimes, text(eventCell), text(timeCell))
	})

	entity.Media = media(doc)
	return entity, nil
}

// Media extracts only the profile image and social links, for enriching
// records fetched earlier.
func (p *Parser) Media(body []byte) (crawler.Media, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Media{}, fmt.Errorf("%w: %v", crawler.ErrMalformed, err)
	}
	return media(doc), nil
}

func media(doc *goquery.Document) crawler.Media {
	var m crawler.Media
	if src, ok := doc.Find(selProfileImage).First().Attr("src"); ok {
		m.ProfileImage = strings.TrimSpace(src)
	}
	doc.Find(selSocialLink).Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		switch {
		case m.Twitter == "" && (strings.Contains(href, "twitter.com") || strings.Contains(href, "x.com")):
			m.Twitter = href
		case m.Instagram == "" && strings.Contains(href, "instagram.com"):
			m.Instagram = href
		}
	})
	return m
}

func linkedIDs(body []byte, selector string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crawler.ErrMalformed, err)
	}
	var ids []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		// "/team/123/roster/" splits into ["", "team", "123", "roster", ""].
		parts := strings.Split(href, "/")
		if len(parts) < 3 {
			return
		}
		ids = append(ids, parts[2])
	})
	return crawler.Dedupe(ids), nil
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
