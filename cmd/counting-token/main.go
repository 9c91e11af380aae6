// counting-token issues a bearer token for the counting API. User and
// permission management live elsewhere; this is for local testing and ops.
//
// Usage:
//
//	API_SECRET=... go run ./cmd/counting-token --business-id=<uuid> --user-id=7 --name="Aye Aye" --role=Counter
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/utils"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id")
	userID := flag.Int("user-id", 0, "Required: user id")
	name := flag.String("name", "", "Display name")
	role := flag.String("role", string(models.UserRoleCounter), "Admin or Counter")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" || *userID <= 0 {
		fmt.Fprintln(os.Stderr, "--business-id and --user-id are required")
		os.Exit(1)
	}
	if !models.UserRole(*role).IsValid() {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(1)
	}

	token, err := utils.JwtGenerate(*userID, *name, *role, *businessID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
