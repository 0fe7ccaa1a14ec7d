// Package mongodb stores user records in a single MongoDB collection. Every
// transition is one FindOneAndUpdate whose filter carries the full
// precondition, so concurrent callers race on the server, not in process.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accountsvc/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type userDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"passwordHash"`
	FirstName    string             `bson:"firstName"`
	LastName     string             `bson:"lastName"`

	OTP                         int        `bson:"otp,omitempty"`
	OTPExpiresAt                *time.Time `bson:"otpExpiresAt,omitempty"`
	EmailProofToken             string     `bson:"emailProofToken,omitempty"`
	EmailProofTokenExpiresAt    *time.Time `bson:"emailProofTokenExpiresAt,omitempty"`
	PasswordResetToken          string     `bson:"passwordResetToken,omitempty"`
	PasswordResetTokenExpiresAt *time.Time `bson:"passwordResetTokenExpiresAt,omitempty"`

	MagicPasswordEnabled bool `bson:"magicPasswordEnabled"`
	IsActive             bool `bson:"isActive"`
	IsVerified           bool `bson:"isVerified"`
	IsDeleted            bool `bson:"isDeleted"`

	CTime time.Time `bson:"cTime"`
	CBy   string    `bson:"cBy"`
	UTime time.Time `bson:"uTime"`
	UBy   string    `bson:"uBy"`
}

func (d userDoc) toDomain() domain.User {
	u := domain.User{
		ID:                   d.ID.Hex(),
		Email:                d.Email,
		PasswordHash:         d.PasswordHash,
		FirstName:            d.FirstName,
		LastName:             d.LastName,
		MagicPasswordEnabled: d.MagicPasswordEnabled,
		IsActive:             d.IsActive,
		IsVerified:           d.IsVerified,
		IsDeleted:            d.IsDeleted,
		CreatedAt:            d.CTime.UTC(),
		CreatedBy:            d.CBy,
		UpdatedAt:            d.UTime.UTC(),
		UpdatedBy:            d.UBy,
	}
	if d.OTP != 0 {
		u.OTP = domain.OTP{Code: d.OTP, ExpiresAt: timeOrZero(d.OTPExpiresAt)}
	}
	if d.EmailProofToken != "" {
		u.EmailProof = domain.SecretToken{Hash: d.EmailProofToken, ExpiresAt: timeOrZero(d.EmailProofTokenExpiresAt)}
	}
	if d.PasswordResetToken != "" {
		u.PasswordReset = domain.SecretToken{Hash: d.PasswordResetToken, ExpiresAt: timeOrZero(d.PasswordResetTokenExpiresAt)}
	}
	return u
}

type UsersStore struct {
	col *mongo.Collection
}

func NewUsersStore(col *mongo.Collection) *UsersStore {
	return &UsersStore{col: col}
}

// EnsureIndexes creates the email uniqueness index, scoped to live records so
// a soft-deleted address can register again, and lookup indexes for tokens.
func (s *UsersStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "email", Value: 1}},
			Options: options.Index().
				SetName("users_email_uq").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "isDeleted", Value: false}}),
		},
		{Keys: bson.D{{Key: "emailProofToken", Value: 1}}, Options: options.Index().SetName("users_email_proof_idx").SetSparse(true)},
		{Keys: bson.D{{Key: "passwordResetToken", Value: 1}}, Options: options.Index().SetName("users_password_reset_idx").SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (s *UsersStore) Ping(ctx context.Context) error {
	return s.col.Database().Client().Ping(ctx, readpref.Primary())
}

func (s *UsersStore) CreateUser(ctx context.Context, in domain.NewUser) (domain.User, error) {
	doc := userDoc{
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		CTime:        in.At,
		CBy:          in.By,
		UTime:        in.At,
		UBy:          in.By,
	}
	if in.EmailProof.IsSet() {
		exp := in.EmailProof.ExpiresAt
		doc.EmailProofToken = in.EmailProof.Hash
		doc.EmailProofTokenExpiresAt = &exp
	}

	res, err := s.col.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.User{}, domain.ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		doc.ID = id
	}
	return doc.toDomain(), nil
}

func (s *UsersStore) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var doc userDoc
	err := s.col.FindOne(ctx, live(bson.E{Key: "email", Value: email})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *UsersStore) IssueEmailProof(ctx context.Context, email string, tok domain.SecretToken, otp domain.OTP, at time.Time, by string) (domain.User, error) {
	set := bson.D{
		{Key: "emailProofToken", Value: tok.Hash},
		{Key: "emailProofTokenExpiresAt", Value: tok.ExpiresAt},
	}
	if otp.IsSet() {
		set = append(set,
			bson.E{Key: "otp", Value: otp.Code},
			bson.E{Key: "otpExpiresAt", Value: otp.ExpiresAt},
		)
	}
	u, err := s.update(ctx, live(bson.E{Key: "email", Value: email}), setUnset(touch(set, at, by), nil), options.Before)
	if err != nil {
		return domain.User{}, notFound(err, "issue email proof")
	}
	return u, nil
}

func (s *UsersStore) IssuePasswordReset(ctx context.Context, email string, tok domain.SecretToken, at time.Time, by string) (domain.User, error) {
	set := bson.D{
		{Key: "passwordResetToken", Value: tok.Hash},
		{Key: "passwordResetTokenExpiresAt", Value: tok.ExpiresAt},
	}
	u, err := s.update(ctx, live(bson.E{Key: "email", Value: email}), setUnset(touch(set, at, by), nil), options.Before)
	if err != nil {
		return domain.User{}, notFound(err, "issue password reset")
	}
	return u, nil
}

func (s *UsersStore) ConsumeEmailProof(ctx context.Context, tokenHash string, now time.Time, by string) (domain.User, error) {
	if tokenHash == "" {
		return domain.User{}, domain.ErrTokenInvalid
	}
	filter := live(
		bson.E{Key: "emailProofToken", Value: tokenHash},
		bson.E{Key: "emailProofTokenExpiresAt", Value: bson.D{{Key: "$gt", Value: now}}},
	)
	u, err := s.update(ctx, filter, verifyPipeline(now, by), options.After)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, s.classifyTokenMiss(ctx, "emailProofToken", tokenHash)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("consume email proof: %w", err)
	}
	return u, nil
}

func (s *UsersStore) ConsumePasswordReset(ctx context.Context, tokenHash, newPasswordHash string, now time.Time, by string) (domain.User, error) {
	if tokenHash == "" {
		return domain.User{}, domain.ErrTokenInvalid
	}
	filter := live(
		bson.E{Key: "passwordResetToken", Value: tokenHash},
		bson.E{Key: "passwordResetTokenExpiresAt", Value: bson.D{{Key: "$gt", Value: now}}},
	)
	update := setUnset(
		touch(bson.D{{Key: "passwordHash", Value: newPasswordHash}}, now, by),
		[]string{"passwordResetToken", "passwordResetTokenExpiresAt"},
	)
	u, err := s.update(ctx, filter, update, options.After)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, s.classifyTokenMiss(ctx, "passwordResetToken", tokenHash)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("consume password reset: %w", err)
	}
	return u, nil
}

func (s *UsersStore) ConsumeOTP(ctx context.Context, email string, code int, now time.Time, by string) (domain.User, error) {
	filter := live(
		bson.E{Key: "email", Value: email},
		bson.E{Key: "otp", Value: code},
		bson.E{Key: "otpExpiresAt", Value: bson.D{{Key: "$gt", Value: now}}},
	)
	update := setUnset(touch(bson.D{}, now, by), []string{"otp", "otpExpiresAt"})
	u, err := s.update(ctx, filter, update, options.After)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, fmt.Errorf("consume otp: %w", err)
	}

	current, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, err
	}
	if current.OTP.IsSet() && current.OTP.Code == code {
		return domain.User{}, domain.ErrTokenExpired
	}
	return domain.User{}, domain.ErrTokenInvalid
}

func (s *UsersStore) SwapPasswordHash(ctx context.Context, email, currentHash, newHash string, at time.Time, by string) (domain.User, error) {
	filter := live(
		bson.E{Key: "email", Value: email},
		bson.E{Key: "passwordHash", Value: currentHash},
	)
	u, err := s.update(ctx, filter, setUnset(touch(bson.D{{Key: "passwordHash", Value: newHash}}, at, by), nil), options.After)
	if err != nil {
		return domain.User{}, notFound(err, "swap password hash")
	}
	return u, nil
}

func (s *UsersStore) SetMagicPassword(ctx context.Context, email string, enabled bool, at time.Time, by string) (domain.User, error) {
	var unset []string
	if !enabled {
		unset = []string{"otp", "otpExpiresAt"}
	}
	update := setUnset(touch(bson.D{{Key: "magicPasswordEnabled", Value: enabled}}, at, by), unset)
	u, err := s.update(ctx, live(bson.E{Key: "email", Value: email}), update, options.After)
	if err != nil {
		return domain.User{}, notFound(err, "set magic password")
	}
	return u, nil
}

func (s *UsersStore) SetActive(ctx context.Context, email string, active bool, at time.Time, by string) (domain.User, error) {
	update := setUnset(touch(bson.D{{Key: "isActive", Value: active}}, at, by), nil)
	u, err := s.update(ctx, live(bson.E{Key: "email", Value: email}), update, options.After)
	if err != nil {
		return domain.User{}, notFound(err, "set active")
	}
	return u, nil
}

func (s *UsersStore) SoftDeleteUser(ctx context.Context, email string, at time.Time, by string) error {
	update := setUnset(
		touch(bson.D{{Key: "isDeleted", Value: true}, {Key: "isActive", Value: false}}, at, by),
		[]string{
			"otp", "otpExpiresAt",
			"emailProofToken", "emailProofTokenExpiresAt",
			"passwordResetToken", "passwordResetTokenExpiresAt",
		},
	)
	res, err := s.col.UpdateOne(ctx, live(bson.E{Key: "email", Value: email}), update)
	if err != nil {
		return fmt.Errorf("soft delete user: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *UsersStore) update(ctx context.Context, filter bson.D, update any, doc options.ReturnDocument) (domain.User, error) {
	var out userDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(doc)
	if err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out); err != nil {
		return domain.User{}, err
	}
	return out.toDomain(), nil
}

// classifyTokenMiss runs after a conditional consume matched nothing. A token
// that is still stored on a live record can only have failed the expiry
// predicate.
func (s *UsersStore) classifyTokenMiss(ctx context.Context, field, tokenHash string) error {
	opts := options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 1}})
	err := s.col.FindOne(ctx, live(bson.E{Key: field, Value: tokenHash}), opts).Err()
	switch {
	case err == nil:
		return domain.ErrTokenExpired
	case errors.Is(err, mongo.ErrNoDocuments):
		return domain.ErrTokenInvalid
	default:
		return fmt.Errorf("classify %s: %w", field, err)
	}
}

// verifyPipeline marks the record verified. isActive is only raised on the
// first verification, so a later magic link cannot undo an admin
// deactivation.
func verifyPipeline(now time.Time, by string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "isActive", Value: bson.D{{Key: "$cond", Value: bson.A{"$isVerified", "$isActive", true}}}},
			{Key: "isVerified", Value: true},
			{Key: "uTime", Value: now},
			{Key: "uBy", Value: bson.D{{Key: "$literal", Value: by}}},
		}}},
		{{Key: "$unset", Value: bson.A{"emailProofToken", "emailProofTokenExpiresAt"}}},
	}
}

func live(conds ...bson.E) bson.D {
	filter := make(bson.D, 0, len(conds)+1)
	filter = append(filter, conds...)
	return append(filter, bson.E{Key: "isDeleted", Value: false})
}

func touch(set bson.D, at time.Time, by string) bson.D {
	return append(set, bson.E{Key: "uTime", Value: at}, bson.E{Key: "uBy", Value: by})
}

func setUnset(set bson.D, unset []string) bson.D {
	update := bson.D{{Key: "$set", Value: set}}
	if len(unset) > 0 {
		fields := make(bson.D, 0, len(unset))
		for _, f := range unset {
			fields = append(fields, bson.E{Key: f, Value: ""})
		}
		update = append(update, bson.E{Key: "$unset", Value: fields})
	}
	return update
}

func notFound(err error, op string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
