package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"cardsmith/internal"
)

// SaveDeck stores a deck and its cards in order and returns the new deck id.
func (d *DB) SaveDeck(deck internal.Deck) (int, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.Exec(`INSERT INTO decks (name, source, ownerId, inboxId) VALUES (?, ?, ?, ?)`,
		deck.Name, deck.Source, deck.OwnerID, deck.InboxID)
	if err != nil {
		return 0, err
	}
	deckID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`INSERT INTO cards (deckId, position, question, answer) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i, card := range deck.Cards {
		if _, err := stmt.Exec(deckID, i+1, card.Question, card.Answer); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(deckID), nil
}

// ListDecks returns decks newest first without their cards. A nil owner lists
// every deck.
func (d *DB) ListDecks(ownerID *int, limit int) ([]internal.Deck, error) {
	query := `SELECT id, name, source, ownerId, inboxId, createdAt FROM decks`
	args := []any{}
	if ownerID != nil {
		query += ` WHERE ownerId = ?`
		args = append(args, *ownerID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Deck
	for rows.Next() {
		var deck internal.Deck
		if err := rows.Scan(&deck.ID, &deck.Name, &deck.Source, &deck.OwnerID, &deck.InboxID, &deck.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, deck)
	}
	return out, rows.Err()
}

func (d *DB) GetDeck(id int) (*internal.Deck, error) {
	var deck internal.Deck
	err := d.conn.QueryRow(`SELECT id, name, source, ownerId, inboxId, createdAt FROM decks WHERE id = ?`, id).
		Scan(&deck.ID, &deck.Name, &deck.Source, &deck.OwnerID, &deck.InboxID, &deck.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cards, err := d.deckCards(id)
	if err != nil {
		return nil, err
	}
	deck.Cards = cards
	return &deck, nil
}

func (d *DB) MustDeck(id int) (internal.Deck, error) {
	deck, err := d.GetDeck(id)
	if err != nil {
		return internal.Deck{}, err
	}
	if deck == nil {
		return internal.Deck{}, fmt.Errorf("deck not found: id=%d", id)
	}
	return *deck, nil
}

// GetDeckByInboxID returns the latest deck generated from an inbox message.
func (d *DB) GetDeckByInboxID(inboxID int) (*internal.Deck, error) {
	var id int
	err := d.conn.QueryRow(`SELECT id FROM decks WHERE inboxId = ? ORDER BY id DESC LIMIT 1`, inboxID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.GetDeck(id)
}

func (d *DB) deckCards(deckID int) ([]internal.Flashcard, error) {
	rows, err := d.conn.Query(`SELECT question, answer FROM cards WHERE deckId = ? ORDER BY position ASC`, deckID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.Flashcard{}
	for rows.Next() {
		var card internal.Flashcard
		if err := rows.Scan(&card.Question, &card.Answer); err != nil {
			return nil, err
		}
		out = append(out, card)
	}
	return out, rows.Err()
}
