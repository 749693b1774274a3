// Package vision turns camera frames into a coarse vehicle presence count.
//
// The pipeline per frame is:
//
//  1. background subtraction against an adaptive per-pixel model, marking
//     darker-than-background pixels as shadow;
//  2. binarisation that keeps only confident foreground (drops shadow);
//  3. morphological close then open with a 5x5 elliptical element;
//  4. external contour extraction of 8-connected foreground regions;
//  5. counting contours whose enclosed area exceeds a minimum.
//
// The count is a presence proxy for scheduling, not object classification.
package vision
