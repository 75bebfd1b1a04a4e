package storage

import (
	"database/sql"
	"errors"
	"strings"

	"cardsmith/internal"
)

var ErrDuplicateUser = errors.New("username already exists")

func (d *DB) CreateUser(username, passwordHash string) (internal.User, error) {
	result, err := d.conn.Exec(`INSERT INTO users (username, passwordHash) VALUES (?, ?)`, username, passwordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return internal.User{}, ErrDuplicateUser
		}
		return internal.User{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return internal.User{}, err
	}
	user, err := d.GetUserByID(int(id))
	if err != nil {
		return internal.User{}, err
	}
	if user == nil {
		return internal.User{}, errors.New("failed to create user")
	}
	return *user, nil
}

func (d *DB) FindByUsername(username string) (*internal.User, error) {
	return d.findUser(`SELECT id, username, passwordHash, createdAt FROM users WHERE username = ?`, username)
}

func (d *DB) GetUserByID(id int) (*internal.User, error) {
	return d.findUser(`SELECT id, username, passwordHash, createdAt FROM users WHERE id = ?`, id)
}

func (d *DB) findUser(query string, arg any) (*internal.User, error) {
	var user internal.User
	err := d.conn.QueryRow(query, arg).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
