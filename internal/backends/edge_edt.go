package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gemfeed/internal/config"
	"gemfeed/internal/feeds"
	"gemfeed/internal/pipeline"
)

const edgeGemstoneCategory = "195"

// EdgeEDT reads the point-of-sale item exports that Edge drops into the
// store's FTP inbox. Only the first stone of an item is priced.
type EdgeEDT struct{}

func (EdgeEDT) Name() string { return "edge_edt" }

func (b EdgeEDT) Enabled(site config.Site) bool {
	return listed(site, b.Name())
}

type edgeItem struct {
	PairValue map[string]any `json:"PairValue"`
}

func (b EdgeEDT) Fetch(ctx context.Context, env Env, yield func(Record) error) error {
	path := env.localFile(b.Name(), ".json")
	if path == "" {
		p, err := edgeLatest(env)
		if err != nil {
			return err
		}
		path = p
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceMissing, err)
	}

	category := env.setting("category")
	if category == "" {
		category = edgeGemstoneCategory
	}
	records, err := decodeEdgeItems(raw, category)
	if err != nil {
		return err
	}
	return yieldAll(records, yield)
}

// edgeLatest finds the newest item list under <feed dir>/<ftp user>/*/Inbox.
// Partial exports are used unless partial_import is switched off.
func edgeLatest(env Env) (string, error) {
	user := env.setting("ftp_username")
	if user == "" {
		return "", fmt.Errorf("%w: edge ftp username", ErrSourceMissing)
	}
	inboxes, err := filepath.Glob(filepath.Join(env.FeedDir, user, "*", "Inbox"))
	if err != nil {
		return "", err
	}
	pattern := "*-ItemList.json"
	if partial, err := strconv.ParseBool(env.setting("partial_import")); err == nil && !partial {
		pattern = "*-FullItemList.json"
	}
	for _, dir := range inboxes {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		latest, err := feeds.Latest(filepath.Join(dir, pattern))
		if err == nil {
			return latest, nil
		}
	}
	return "", fmt.Errorf("%w: no %s in %s inbox", ErrSourceMissing, pattern, user)
}

func decodeEdgeItems(raw []byte, category string) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc struct {
		Items []edgeItem `json:"Items"`
	}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode edge json: %w", err)
	}
	if doc.Items == nil {
		return nil, errors.New("file does not contain edge items")
	}

	var out []Record
	for _, item := range doc.Items {
		if item.PairValue == nil {
			continue
		}
		rec := flatten(item.PairValue)
		if cat, ok := rec["ItemCatId"]; ok && cat != category {
			continue
		}
		stones, _ := item.PairValue["Stones"].([]any)
		for i, s := range stones {
			stone, _ := s.(map[string]any)
			pv, _ := stone["PairValue"].(map[string]any)
			for k, v := range flatten(pv) {
				rec[fmt.Sprintf("stone_%d_%s", i, k)] = v
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (EdgeEDT) Map(rec Record) (pipeline.Fields, error) {
	f := pipeline.Fields{
		StockNumber:  rec["ItemKey"],
		LotNum:       rec["stone_0_StoneSeq"],
		Cut:          rec["stone_0_StoneShape"],
		CaratWeight:  rec["stone_0_StoneTWT"],
		Color:        rec["stone_0_StoneHue"],
		Certifier:    rec["stone_0_StoneLab"],
		Clarity:      rec["stone_0_StoneClarity"],
		CutGrade:     rec["stone_0_StoneMake"],
		TotalPrice:   rec["ItemCurrentPrice"],
		Polish:       rec["stone_0_StonePolish"],
		Symmetry:     rec["stone_0_StoneMajorSymmetry"],
		Fluorescence: rec["stone_0_StoneFluor"],
		TablePercent: rec["stone_0_StoneTablePct"],
		CertNum:      rec["stone_0_StoneCert"],
		Length:       rec["stone_0_StoneLengthMax"],
		Width:        rec["stone_0_StoneWidthMax"],
		Depth:        rec["stone_0_StoneDepthMax"],
		Inactive:     strings.TrimSpace(rec["ItemStatus"]) != "I",
	}

	data := map[string]any{}
	if v := strings.TrimSpace(rec["stone_0_StoneLaserInscription"]); v != "" {
		f.LaserInscribed = true
		data["laser_inscription"] = v
	}
	if v := strings.TrimSpace(rec["ItemDetail_1"]); v != "" {
		data["v360_link"] = v
	}
	if desc := strings.TrimSpace(rec["ItemDesc"]); desc != "" {
		data["alt_description"] = desc + rec["ItemNotes"]
	}
	if len(data) > 0 {
		f.Data = data
	}
	return f, nil
}
