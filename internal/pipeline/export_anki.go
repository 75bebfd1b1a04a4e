package pipeline

import (
	"archive/zip"
	"crypto/sha1"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cardsmith/internal"
)

const (
	ankiModelID  int64 = 1607392319
	ankiFieldSep       = "\x1f"
	ankiCSS            = ".card {\n font-family: arial;\n font-size: 20px;\n text-align: center;\n color: black;\n background-color: white;\n}\n"
)

const ankiSchema = `
CREATE TABLE col (
  id integer primary key, crt integer not null, mod integer not null, scm integer not null,
  ver integer not null, dty integer not null, usn integer not null, ls integer not null,
  conf text not null, models text not null, decks text not null, dconf text not null, tags text not null
);
CREATE TABLE notes (
  id integer primary key, guid text not null, mid integer not null, mod integer not null,
  usn integer not null, tags text not null, flds text not null, sfld integer not null,
  csum integer not null, flags integer not null, data text not null
);
CREATE TABLE cards (
  id integer primary key, nid integer not null, did integer not null, ord integer not null,
  mod integer not null, usn integer not null, type integer not null, queue integer not null,
  due integer not null, ivl integer not null, factor integer not null, reps integer not null,
  lapses integer not null, left integer not null, odue integer not null, odid integer not null,
  flags integer not null, data text not null
);
CREATE TABLE revlog (
  id integer primary key, cid integer not null, usn integer not null, ivl integer not null,
  lastIvl integer not null, factor integer not null, time integer not null, type integer not null
);
CREATE TABLE graves (usn integer not null, oid integer not null, type integer not null);
CREATE INDEX ix_notes_usn on notes (usn);
CREATE INDEX ix_cards_usn on cards (usn);
CREATE INDEX ix_revlog_usn on revlog (usn);
CREATE INDEX ix_cards_nid on cards (nid);
CREATE INDEX ix_cards_sched on cards (did, queue, due);
CREATE INDEX ix_revlog_cid on revlog (cid);
CREATE INDEX ix_notes_csum on notes (csum);
`

// WriteAnkiPackage writes an .apkg: a zip holding a collection.anki2 sqlite
// database with one Question/Answer note per card and an empty media map.
func WriteAnkiPackage(w io.Writer, deckName string, cards []internal.Flashcard) error {
	deckName = strings.TrimSpace(deckName)
	if deckName == "" {
		deckName = "My Flashcards"
	}

	dir, err := os.MkdirTemp("", "cardsmith-apkg-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	dbPath := filepath.Join(dir, "collection.anki2")
	if err := buildAnkiCollection(dbPath, deckName, cards, time.Now()); err != nil {
		return err
	}

	collection, err := os.ReadFile(dbPath)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	part, err := zw.Create("collection.anki2")
	if err != nil {
		return err
	}
	if _, err := part.Write(collection); err != nil {
		return err
	}
	media, err := zw.Create("media")
	if err != nil {
		return err
	}
	if _, err := media.Write([]byte("{}")); err != nil {
		return err
	}
	return zw.Close()
}

func buildAnkiCollection(path, deckName string, cards []internal.Flashcard, now time.Time) error {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Exec(ankiSchema); err != nil {
		return fmt.Errorf("create anki schema: %w", err)
	}

	deckID := ankiDeckID(deckName)
	nowSec := now.Unix()
	nowMs := now.UnixMilli()

	models, decks, dconf, conf, err := ankiCollectionJSON(deckID, deckName, nowSec)
	if err != nil {
		return err
	}

	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO col VALUES (1, ?, ?, ?, 11, 0, 0, 0, ?, ?, ?, ?, '{}')`,
		nowSec, nowMs, nowMs, conf, models, decks, dconf); err != nil {
		return fmt.Errorf("insert anki col: %w", err)
	}

	noteStmt, err := tx.Prepare(`INSERT INTO notes VALUES (?, ?, ?, ?, -1, '', ?, ?, ?, 0, '')`)
	if err != nil {
		return err
	}
	defer noteStmt.Close()
	cardStmt, err := tx.Prepare(`INSERT INTO cards VALUES (?, ?, ?, 0, ?, -1, 0, 0, ?, 0, 0, 0, 0, 0, 0, 0, 0, '')`)
	if err != nil {
		return err
	}
	defer cardStmt.Close()

	for i, card := range cards {
		id := nowMs + int64(i)
		fields := card.Question + ankiFieldSep + card.Answer
		if _, err := noteStmt.Exec(id, ankiGUID(deckName, card), ankiModelID, nowSec, fields, card.Question, ankiChecksum(card.Question)); err != nil {
			return fmt.Errorf("insert anki note: %w", err)
		}
		if _, err := cardStmt.Exec(id, id, deckID, nowSec, i+1); err != nil {
			return fmt.Errorf("insert anki card: %w", err)
		}
	}

	return tx.Commit()
}

func ankiCollectionJSON(deckID int64, deckName string, nowSec int64) (models, decks, dconf, conf string, err error) {
	model := map[string]any{
		"id":        ankiModelID,
		"name":      "Simple Model",
		"type":      0,
		"mod":       nowSec,
		"usn":       -1,
		"sortf":     0,
		"did":       deckID,
		"css":       ankiCSS,
		"latexPre":  "\\documentclass[12pt]{article}\n\\begin{document}\n",
		"latexPost": "\\end{document}",
		"tags":      []string{},
		"vers":      []int{},
		"req":       []any{[]any{0, "any", []int{0}}},
		"flds": []map[string]any{
			{"name": "Question", "ord": 0, "sticky": false, "rtl": false, "font": "Arial", "size": 20, "media": []string{}},
			{"name": "Answer", "ord": 1, "sticky": false, "rtl": false, "font": "Arial", "size": 20, "media": []string{}},
		},
		"tmpls": []map[string]any{
			{"name": "Card 1", "ord": 0, "qfmt": "{{Question}}", "afmt": "{{FrontSide}}<hr id=\"answer\">{{Answer}}", "did": nil, "bqfmt": "", "bafmt": ""},
		},
	}
	deck := func(id int64, name string) map[string]any {
		return map[string]any{
			"id": id, "name": name, "mod": nowSec, "usn": -1, "desc": "", "dyn": 0, "conf": 1,
			"collapsed": false, "extendNew": 10, "extendRev": 50,
			"newToday": []int{0, 0}, "revToday": []int{0, 0}, "lrnToday": []int{0, 0}, "timeToday": []int{0, 0},
		}
	}
	deckConf := map[string]any{
		"id": 1, "name": "Default", "mod": 0, "usn": 0, "maxTaken": 60, "autoplay": true, "timer": 0, "replayq": true, "dyn": false,
		"new":   map[string]any{"delays": []int{1, 10}, "ints": []int{1, 4, 7}, "initialFactor": 2500, "order": 1, "perDay": 20, "bury": true, "separate": true},
		"rev":   map[string]any{"perDay": 100, "ease4": 1.3, "fuzz": 0.05, "maxIvl": 36500, "ivlFct": 1, "minSpace": 1, "bury": true},
		"lapse": map[string]any{"delays": []int{10}, "mult": 0, "minInt": 1, "leechFails": 8, "leechAction": 0},
	}
	collectionConf := map[string]any{
		"nextPos": 1, "estTimes": true, "activeDecks": []int64{1}, "sortType": "noteFld", "timeLim": 0,
		"sortBackwards": false, "addToCur": true, "curDeck": 1, "newBury": true, "newSpread": 0,
		"dueCounts": true, "curModel": strconv.FormatInt(ankiModelID, 10), "collapseTime": 1200,
	}

	encode := func(v any) string {
		if err != nil {
			return ""
		}
		var blob []byte
		blob, err = json.Marshal(v)
		return string(blob)
	}

	models = encode(map[string]any{strconv.FormatInt(ankiModelID, 10): model})
	deckMap := map[string]any{"1": deck(1, "Default")}
	deckMap[strconv.FormatInt(deckID, 10)] = deck(deckID, deckName)
	decks = encode(deckMap)
	dconf = encode(map[string]any{"1": deckConf})
	conf = encode(collectionConf)
	return models, decks, dconf, conf, err
}

// ankiDeckID is a stable positive id derived from the deck name, so
// re-importing the same deck updates it instead of creating a copy.
func ankiDeckID(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64()>>12) + 1
}

func ankiGUID(deckName string, card internal.Flashcard) string {
	sum := sha1.Sum([]byte(deckName + ankiFieldSep + card.Question + ankiFieldSep + card.Answer))
	return base64.RawStdEncoding.EncodeToString(sum[:8])
}

// ankiChecksum is the first 8 hex digits of the sha1 of the sort field.
func ankiChecksum(field string) int64 {
	sum := sha1.Sum([]byte(field))
	v, _ := strconv.ParseInt(hex.EncodeToString(sum[:4]), 16, 64)
	return v
}
