// Command cerberus-admin is the operator tooling over the identity store:
// inspecting users and sessions, provisioning invitations, and checking a
// user's password against the stored public key.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/layer-3/cerberus/config"
	"github.com/layer-3/cerberus/internal/cryptox"
	"github.com/layer-3/cerberus/internal/otpx"
)

const usage = `cerberus-admin <cmd> [<param> ..]

users list                            List users
users otpcode <pseudo>                Show current TOTP code of a user
users checkpasswd <pseudo> <passwd>   Check a user's password
users invite <pseudo> <name>          Provision an invitation
sessions list                         List current sessions
sessions update <token>               Touch lastUsed of a session
sessions delete <id>                  Delete a session
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		fatal(err)
	}
	defer client.Disconnect(context.Background())

	db := client.Database(cfg.MongoDatabase)

	args := os.Args[1:]
	if len(args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	switch args[0] + " " + args[1] {
	case "users list":
		err = dump(ctx, db.Collection("users"))
	case "users otpcode":
		err = otpcode(ctx, db, arg(args, 2))
	case "users checkpasswd":
		err = checkpasswd(ctx, db, arg(args, 2), arg(args, 3))
	case "users invite":
		err = invite(ctx, db, cfg.Issuer, arg(args, 2), arg(args, 3))
	case "sessions list":
		err = dump(ctx, db.Collection("sessions"))
	case "sessions update":
		err = touchSession(ctx, db, arg(args, 2))
	case "sessions delete":
		err = deleteSession(ctx, db, arg(args, 2))
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
}

func arg(args []string, i int) string {
	if i >= len(args) {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	return args[i]
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func dump(ctx context.Context, c *mongo.Collection) error {
	cur, err := c.Find(ctx, bson.M{})
	if err != nil {
		return err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return err
	}
	for _, doc := range docs {
		out, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}
	return nil
}

func otpcode(ctx context.Context, db *mongo.Database, pseudo string) error {
	secret, err := userSecret(ctx, db, pseudo)
	if err != nil {
		return err
	}
	code, err := otpx.Generate(secret)
	if err != nil {
		return err
	}
	fmt.Println(code)
	return nil
}

// checkpasswd replays the full login contract locally: derive the client key
// from the password, sign a fresh challenge, verify against the stored
// public key.
func checkpasswd(ctx context.Context, db *mongo.Database, pseudo, passwd string) error {
	var user struct {
		PublicKey string `bson:"pkey"`
	}
	err := db.Collection("users").FindOne(ctx, bson.M{"pseudo": pseudo}).Decode(&user)
	if err != nil {
		return fmt.Errorf("unknown user: %w", err)
	}

	challenge, err := cryptox.RandomToken(cryptox.TokenBytes)
	if err != nil {
		return err
	}
	fmt.Println("c: " + challenge)

	key := cryptox.DeriveClientKey(passwd, pseudo)
	signature, err := cryptox.SignChallenge(challenge, key)
	if err != nil {
		return err
	}
	fmt.Println("s: " + signature)

	ok := verifyHex(challenge, signature, user.PublicKey)
	fmt.Println(ok)
	return nil
}

func invite(ctx context.Context, db *mongo.Database, issuer, pseudo, name string) error {
	gid, err := cryptox.RandomToken(cryptox.TokenBytes)
	if err != nil {
		return err
	}
	secret, err := cryptox.RandomToken(20)
	if err != nil {
		return err
	}

	_, err = db.Collection("pending_registrations").InsertOne(ctx, bson.M{
		"gid":    gid,
		"pseudo": pseudo,
		"name":   name,
		"gotp":   secret,
	})
	if err != nil {
		return err
	}

	fmt.Println("gid: " + gid)
	fmt.Println("uri: " + otpx.KeyURI(pseudo, issuer, secret))
	return nil
}

func touchSession(ctx context.Context, db *mongo.Database, token string) error {
	res, err := db.Collection("sessions").UpdateOne(ctx,
		bson.M{"token": token},
		bson.M{"$set": bson.M{"lastUsed": time.Now()}})
	if err != nil {
		return err
	}
	fmt.Printf("matched %d\n", res.MatchedCount)
	return nil
}

func deleteSession(ctx context.Context, db *mongo.Database, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	res, err := db.Collection("sessions").DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d\n", res.DeletedCount)
	return nil
}

func userSecret(ctx context.Context, db *mongo.Database, pseudo string) (string, error) {
	var user struct {
		TOTPSecret string `bson:"gotp"`
	}
	err := db.Collection("users").FindOne(ctx, bson.M{"pseudo": pseudo}).Decode(&user)
	if err != nil {
		return "", fmt.Errorf("unknown user: %w", err)
	}
	return user.TOTPSecret, nil
}

func verifyHex(challengeHex, signatureHex, publicKeyHex string) bool {
	challenge, err1 := hex.DecodeString(challengeHex)
	signature, err2 := hex.DecodeString(signatureHex)
	publicKey, err3 := hex.DecodeString(publicKeyHex)
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	return cryptox.VerifySignature(challenge, signature, publicKey)
}
