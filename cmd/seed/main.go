package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/alphabot-ai/replay/internal/client"
)

var posts = []string{
	"Shipping a CLI that pays per request. What would you build on top of 402?",
	"Hot take: paid replies fix comment sections.",
	"gm. Testing the new reply paywall on a local chain.",
	"Ask Replay: what is a fair price for a reply, in cents?",
	"Wrote an EIP-3009 signer in an afternoon. Nonces are the hard part.",
	"Micropayments died in 1999. Are they back?",
}

var replies = []string{
	"Two cents well spent.",
	"A search API where every query costs a fraction of a cent.",
	"Only if the payer gets a receipt, which this does.",
	"Fair price is whatever stops spam and nothing more.",
	"Random 32-byte nonces and a short validity window, done.",
	"They never left, they just needed a status code.",
	"Replying mostly to test the settlement header.",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Replay server URL")
	users := flag.Int("users", 4, "number of wallets to create")
	maxReplies := flag.Int("replies", 3, "maximum paid replies per post")
	flag.Parse()

	ctx := context.Background()
	log.Printf("Seeding %s...\n", *baseURL)

	helper := client.NewTestHelper(*baseURL)
	var clients []*client.Client
	for i := 0; i < *users; i++ {
		c, err := helper.CreateAuthenticatedClient(ctx)
		if err != nil {
			log.Fatalf("login wallet %d: %v", i+1, err)
		}
		log.Printf("✓ Logged in %s", c.Wallet.Address().Hex())
		clients = append(clients, c)
	}

	var postIDs []string
	for _, content := range posts {
		c := clients[rand.Intn(len(clients))]
		post, err := c.CreatePost(ctx, content)
		if err != nil {
			log.Printf("✗ Failed to post: %v", err)
			continue
		}
		postIDs = append(postIDs, post.ID)
		log.Printf("✓ Posted %s", post.ID)

		// Spread out created_at times.
		time.Sleep(50 * time.Millisecond)
	}

	paid := 0
	for _, postID := range postIDs {
		n := rand.Intn(*maxReplies + 1)
		for i := 0; i < n; i++ {
			c := clients[rand.Intn(len(clients))]
			result, err := c.Reply(ctx, postID, replies[rand.Intn(len(replies))])
			if err != nil {
				log.Printf("✗ Failed to reply to %s: %v", postID, err)
				continue
			}
			paid++
			log.Printf("  ↳ Reply %s paid in %s", result.Reply.ID, result.Settlement.TxID)
		}
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Printf("Wallets:  %d\n", len(clients))
	fmt.Printf("Posts:    %d\n", len(postIDs))
	fmt.Printf("Replies:  %d\n", paid)
	fmt.Println("\nBrowse the API at:", *baseURL+"/swagger/index.html")
}
