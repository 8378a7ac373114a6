package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
)

type profilesRepo struct {
	c conn
}

func (r *profilesRepo) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	var p domain.Profile
	err := r.c.q.QueryRowContext(ctx, `
		SELECT user_id, name, given_name, family_name, email, email_verified,
		       phone_number, phone_number_verified,
		       address_formatted, address_street, address_locality, address_region,
		       address_postal_code, address_country, zoneinfo, locale, updated_at
		FROM profiles WHERE user_id = ?`, userID,
	).Scan(
		&p.UserID, &p.Name, &p.GivenName, &p.FamilyName, &p.Email, &p.EmailVerified,
		&p.PhoneNumber, &p.PhoneNumberVerified,
		&p.Address.Formatted, &p.Address.StreetAddress, &p.Address.Locality, &p.Address.Region,
		&p.Address.PostalCode, &p.Address.Country, &p.Zoneinfo, &p.Locale, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Profile{}, mapNotFound(err)
	}
	return p, nil
}

func (r *profilesRepo) UpsertProfile(ctx context.Context, p domain.Profile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := r.c.q.ExecContext(ctx, `
		INSERT INTO profiles (
			user_id, name, given_name, family_name, email, email_verified,
			phone_number, phone_number_verified,
			address_formatted, address_street, address_locality, address_region,
			address_postal_code, address_country, zoneinfo, locale, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			name = excluded.name,
			given_name = excluded.given_name,
			family_name = excluded.family_name,
			email = excluded.email,
			email_verified = excluded.email_verified,
			phone_number = excluded.phone_number,
			phone_number_verified = excluded.phone_number_verified,
			address_formatted = excluded.address_formatted,
			address_street = excluded.address_street,
			address_locality = excluded.address_locality,
			address_region = excluded.address_region,
			address_postal_code = excluded.address_postal_code,
			address_country = excluded.address_country,
			zoneinfo = excluded.zoneinfo,
			locale = excluded.locale,
			updated_at = excluded.updated_at`,
		p.UserID, p.Name, p.GivenName, p.FamilyName, p.Email, p.EmailVerified,
		p.PhoneNumber, p.PhoneNumberVerified,
		p.Address.Formatted, p.Address.StreetAddress, p.Address.Locality, p.Address.Region,
		p.Address.PostalCode, p.Address.Country, p.Zoneinfo, p.Locale, p.UpdatedAt.UTC(),
	)
	return err
}
